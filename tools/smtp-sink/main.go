// smtp-sink is a development SMTP server that accepts every message and
// stores it in memory. Point SMTP_HOST/SMTP_PORT at it and inspect what
// the registrar sent via the HTTP stats endpoint.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type message struct {
	Timestamp string   `json:"timestamp"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	Data      string   `json:"data"`
}

type stats struct {
	Count        int64     `json:"count"`
	LastMessages []message `json:"last_messages"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	lastMessages []message
	since        time.Time
	maxStored    = 50
)

func main() {
	since = time.Now().UTC()

	smtpAddr := ":2525"
	if v := os.Getenv("SMTP_ADDR"); v != "" {
		smtpAddr = v
	}
	httpAddr := ":8025"
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		httpAddr = v
	}

	ln, err := net.Listen("tcp", smtpAddr)
	if err != nil {
		log.Fatalf("smtp listen: %v", err)
	}
	go acceptLoop(ln)
	log.Printf("smtp-sink listening on %s (smtp) and %s (http)", smtpAddr, httpAddr)

	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastMessages = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Fatal(http.ListenAndServe(httpAddr, nil))
}

func acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("accept: %v", err)
			continue
		}
		go session(conn)
	}
}

// session speaks just enough SMTP to collect a message.
func session(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Minute))

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	reply := func(line string) {
		w.WriteString(line + "\r\n")
		w.Flush()
	}

	reply("220 smtp-sink ready")

	var msg message
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(verb, "EHLO"), strings.HasPrefix(verb, "HELO"):
			reply("250-smtp-sink")
			reply("250 8BITMIME")
		case strings.HasPrefix(verb, "MAIL FROM:"):
			msg = message{From: strings.Trim(line[len("MAIL FROM:"):], " <>")}
			reply("250 ok")
		case strings.HasPrefix(verb, "RCPT TO:"):
			msg.To = append(msg.To, strings.Trim(line[len("RCPT TO:"):], " <>"))
			reply("250 ok")
		case verb == "DATA":
			reply("354 end with <CR><LF>.<CR><LF>")
			data, err := readData(r)
			if err != nil {
				return
			}
			msg.Data = data
			msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
			store(msg)
			reply("250 ok: queued")
		case verb == "RSET":
			msg = message{}
			reply("250 ok")
		case verb == "NOOP":
			reply("250 ok")
		case verb == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 ok")
		}
	}
}

func readData(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		if strings.TrimRight(line, "\r\n") == "." {
			return b.String(), nil
		}
		b.WriteString(line)
	}
}

func store(msg message) {
	mu.Lock()
	count++
	lastMessages = append(lastMessages, msg)
	if len(lastMessages) > maxStored {
		lastMessages = lastMessages[len(lastMessages)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("message received #%d: from=%s to=%v", current, msg.From, msg.To)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		LastMessages: lastMessages,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
