// Command devicesim plays the role of the scanning mobile device against a
// running verification service: it parses a QR payload, reports the BLE
// proximity match a real phone would advertise, then consumes the session
// and prints the trust result.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/verifyd/verifyd/internal/lifecycle"
	"github.com/verifyd/verifyd/internal/notify"
	"github.com/verifyd/verifyd/internal/session"
)

var serverBaseURL = "http://localhost:8000"

func main() {
	payload := flag.String("payload", "", "Scanned QR payload (myapp://verify?token=...&uuid=...)")
	url := flag.String("url", "", "Checked URL; when set a fresh session is created first")
	rssi := flag.Int("rssi", -50, "Signal strength to report, in dBm")
	noProximity := flag.Bool("no-proximity", false, "Skip the proximity report (simulates a distant phone)")
	listen := flag.Bool("listen", false, "Subscribe to the realtime channel instead of polling")
	serverFlag := flag.String("server", "", "Override server base URL")
	collectorKey := flag.String("collector-key", "", "X-Collector-Key for the proximity endpoint")
	flag.Parse()

	if env := os.Getenv("VERIFYD_SERVER"); env != "" {
		serverBaseURL = strings.TrimRight(env, "/")
	}
	if *serverFlag != "" {
		serverBaseURL = strings.TrimRight(*serverFlag, "/")
	}

	qrPayload := *payload
	if qrPayload == "" {
		if *url == "" {
			fmt.Println("either --payload or --url is required")
			os.Exit(1)
		}
		created, err := initSession(*url)
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		fmt.Printf("Session created: nonce=%s expires_in=%ds\n", created.Nonce, created.ExpiresIn)
		qrPayload = created.QRPayload
	}

	token, proximityUUID, err := lifecycle.ParsePayload(qrPayload)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	fmt.Printf("Parsed payload: token=%s uuid=%s\n", token, proximityUUID)

	if !*noProximity {
		if err := reportProximity(proximityUUID, *rssi, *collectorKey); err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		fmt.Printf("Proximity reported (%d dBm)\n", *rssi)
	}

	if *listen {
		if err := listenRealtime(token); err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		return
	}

	res, err := verify(token)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	printResult(res)
}

type initResponse struct {
	Nonce     string `json:"nonce"`
	QRPayload string `json:"qr_payload"`
	ExpiresIn int    `json:"expires_in"`
}

func initSession(checkedURL string) (*initResponse, error) {
	req, err := http.NewRequest(http.MethodPost, serverBaseURL+"/api/v1/session/init", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Client-Url", checkedURL)
	var out initResponse
	if err := do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func reportProximity(proximityUUID string, rssi int, collectorKey string) error {
	body, _ := json.Marshal(map[string]any{
		"proximity_uuid":  proximityUUID,
		"signal_strength": rssi,
		"supported":       true,
	})
	req, err := http.NewRequest(http.MethodPost, serverBaseURL+"/api/v1/session/proximity", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if collectorKey != "" {
		req.Header.Set("X-Collector-Key", collectorKey)
	}
	return do(req, nil)
}

func verify(token string) (*session.Result, error) {
	body, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequest(http.MethodPost, serverBaseURL+"/api/v1/session/verify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out session.Result
	if err := do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func listenRealtime(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	wsBase := "ws" + strings.TrimPrefix(serverBaseURL, "http")
	conn, _, err := websocket.Dial(ctx, wsBase+"/api/v1/ws/verification/"+token, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	fmt.Println("Waiting for verification event...")
	var evt notify.Event
	if err := wsjson.Read(ctx, conn, &evt); err != nil {
		return err
	}
	fmt.Println("Event:", evt.Type)
	if evt.Result != nil {
		printResult(evt.Result)
	}
	return nil
}

func printResult(res *session.Result) {
	fmt.Printf("Verdict: %s (score %d)\n", res.Verdict, res.TrustScore)
	fmt.Printf("Checked URL: %s\n", res.CheckedURL)
	for _, l := range res.Logs {
		fmt.Printf("  [%s] %s: %s\n", l.Status, l.Check, l.Detail)
	}
}

func do(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
