package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voice-hud-service/internal/service/voice"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time streaming
// At 16kHz 16-bit mono = 32000 bytes/second
// 100ms chunks = 3200 bytes
const chunkSize = 3200
const chunkIntervalMs = 100

type hudMessage struct {
	Type    string          `json:"type"`
	Session *voice.Snapshot `json:"session,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	server := flag.String("server", "ws://localhost:8080/v1/hud", "HUD WebSocket URL")
	path := flag.String("path", "/", "Route the simulated tab is on")
	tail := flag.Duration("tail", 3*time.Second, "How long to keep listening after the file ends")
	flag.Parse()

	// Open audio file
	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	// Read and validate WAV header
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}

	// Validate it's a WAV file
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	// Extract audio format info
	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	if sampleRate != 16000 {
		log.Printf("Warning: Sample rate is %d Hz, the provider expects 16000 Hz", sampleRate)
	}

	u, err := url.Parse(*server)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", u)

	// gorilla/websocket allows one concurrent writer.
	var wmu sync.Mutex
	writeJSON := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(v)
	}
	writeMessage := func(kind int, data []byte) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteMessage(kind, data)
	}

	connected := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		var agentBytes int
		printed := 0
		signalled := false
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("HUD closed: %v (received %d bytes of agent audio)", err, agentBytes)
				return
			}
			if kind == websocket.BinaryMessage {
				agentBytes += len(data)
				continue
			}

			var m hudMessage
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			switch m.Type {
			case "media_request":
				writeJSON(map[string]any{"type": "media_permission", "granted": true})
			case "error":
				log.Printf("HUD error %s: %s", m.Code, m.Message)
			case "session":
				s := m.Session
				if s.State == voice.StateConnected && !signalled {
					signalled = true
					close(connected)
				}
				if s.State == voice.StateError {
					log.Fatalf("Call failed: %s", s.LastError)
				}
				if len(s.Transcript) < printed {
					printed = 0
				}
				for _, e := range s.Transcript[printed:] {
					log.Printf("%s: %s", strings.ToUpper(string(e.Role)), e.Text)
				}
				printed = len(s.Transcript)
			}
		}
	}()

	if err := writeJSON(map[string]any{"type": "navigate", "path": *path}); err != nil {
		log.Fatalf("Failed to navigate: %v", err)
	}
	if err := writeJSON(map[string]any{"type": "start"}); err != nil {
		log.Fatalf("Failed to start call: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(15 * time.Second):
		log.Fatal("Timed out waiting for the call to connect")
	}

	// Stream audio in chunks
	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)

		if err := writeMessage(websocket.BinaryMessage, audioChunk[:n]); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}

		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	elapsed := time.Since(startTime)
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, elapsed)

	time.Sleep(*tail)
	writeJSON(map[string]any{"type": "end"})
	writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	log.Println("Call ended")
}
