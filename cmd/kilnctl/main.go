// kilnctl is the operator CLI for a running kilnd: it can report current
// state, start/pause/resume/stop a firing, and follow live updates over
// the daemon's websocket.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"
)

func main() {
	var follow bool
	var host string
	var runProfile string
	var startAtMinutes float64
	var allowSeek bool
	var pause, resume, stop bool

	flag.BoolVar(&follow, "f", false, "follow live state over the websocket")
	flag.StringVar(&host, "h", "127.0.0.1:8081", "host:port of the daemon")
	flag.StringVar(&runProfile, "run", "", "start this profile by name")
	flag.Float64Var(&startAtMinutes, "startat", 0, "minutes into the schedule to start at")
	flag.BoolVar(&allowSeek, "seek", true, "seek start time from current temperature")
	flag.BoolVar(&pause, "pause", false, "pause the current firing")
	flag.BoolVar(&resume, "resume", false, "resume a paused firing")
	flag.BoolVar(&stop, "stop", false, "stop the current firing")
	flag.Parse()

	client := &http.Client{}

	switch {
	case runProfile != "":
		body, _ := json.Marshal(map[string]interface{}{
			"profile":         runProfile,
			"startat_minutes": startAtMinutes,
			"allow_seek":      allowSeek,
		})
		post(client, host, "/api/run", body)
	case pause:
		post(client, host, "/api/pause", nil)
	case resume:
		post(client, host, "/api/resume", nil)
	case stop:
		post(client, host, "/api/stop", nil)
	case follow:
		followState(host)
		return
	default:
		getState(client, host)
		return
	}

	getState(client, host)
}

func post(client *http.Client, host, path string, body []byte) {
	resp, err := client.Post("http://"+host+path, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", resp.Status, data)
		os.Exit(1)
	}
}

func getState(client *http.Client, host string) {
	resp, err := client.Get("http://" + host + "/api/state")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func followState(host string) {
	dialer := &websocket.Dialer{}
	conn, _, err := dialer.Dial("ws://"+host+"/ws", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error dialing websocket: %s\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fmt.Fprintf(os.Stderr, "connection closed: %s\n", err)
				return
			}
			fmt.Println(string(data))
		}
	}()

	select {
	case <-sig:
	case <-done:
	}
}
