package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"trafficeditor.app/internal/sim/controller"
)

// actionResult is the body of /admin/v1/reset and /admin/v1/snapshot.
type actionResult struct {
	OK    bool   `json:"ok"`
	Tick  uint64 `json:"tick"`
	Error string `json:"error,omitempty"`
}

type simClient struct {
	base string
	http *http.Client
}

func newSimClient(baseURL string, timeout time.Duration) *simClient {
	return &simClient{
		base: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *simClient) status() (controller.Status, error) {
	var st controller.Status
	resp, err := c.http.Get(c.base + "/admin/v1/state")
	if err != nil {
		return st, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return st, fmt.Errorf("state: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// trigger POSTs /admin/v1/<action>. A 503 still carries an actionResult.
func (c *simClient) trigger(action string) (actionResult, error) {
	var res actionResult
	resp, err := c.http.Post(c.base+"/admin/v1/"+action, "application/json", nil)
	if err != nil {
		return res, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("%s: status=%d: decode: %w", action, resp.StatusCode, err)
	}
	if !res.OK {
		return res, fmt.Errorf("%s failed at tick %d: %s", action, res.Tick, res.Error)
	}
	return res, nil
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "simulator base url")
	asJSON := fs.Bool("json", false, "print raw status JSON")
	_ = fs.Parse(args)

	st, err := newSimClient(*baseURL, 5*time.Second).status()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *asJSON {
		printJSON(st)
		return
	}
	fmt.Println(formatStatus(st))
}

func formatStatus(st controller.Status) string {
	return fmt.Sprintf("run=%s building=%s tick=%d models=%d viewers=%d resets=%d step=%.3fms digest=%.12s",
		st.RunID, st.Building, st.Tick, st.Models, st.Viewers, st.Resets, st.StepMS, st.Digest)
}

func postCmd(action string, args []string) {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "simulator base url")
	_ = fs.Parse(args)

	res, err := newSimClient(*baseURL, 10*time.Second).trigger(action)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%s ok: tick=%d\n", action, res.Tick)
}
