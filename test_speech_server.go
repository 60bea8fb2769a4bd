package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"time"
)

// Local stand-in for the three speech backends. Point the config endpoints
// at http://localhost:9000 to run the service without API keys.

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

type completionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

var fieldKeyPattern = regexp.MustCompile(`\{"([a-zA-Z0-9_]+)":`)

func speechHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request", http.StatusBadRequest)
		return
	}

	log.Printf("🔊 SPEECH REQUEST: model=%s voice=%s format=%s", req.Model, req.Voice, req.ResponseFormat)
	log.Printf("    Text: %q", req.Input)

	// A few fake MP3 frame headers; enough for the client to treat the
	// response as audio
	audio := make([]byte, 0, 4096)
	for i := 0; i < 1024; i++ {
		audio = append(audio, 0xFF, 0xFB, 0x90, 0x00)
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)

	log.Printf("✅ SPEECH RESPONSE SENT: %d bytes", len(audio))
}

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	model := r.FormValue("model")
	language := r.FormValue("language")

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("🎤 TRANSCRIPTION REQUEST: model=%s language=%s", model, language)
	log.Printf("    File: %s (%d bytes, %s)", header.Filename, len(audioData), header.Header.Get("Content-Type"))

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	response := transcriptionResponse{
		Text: "We want to automate our customer support ticket triage and routing",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("✅ TRANSCRIPTION RESPONSE SENT: %q", response.Text)
}

func completionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request", http.StatusBadRequest)
		return
	}

	// Echo back the field key the prompt asks for so extraction succeeds
	fieldKey := "answer"
	for _, msg := range req.Messages {
		if match := fieldKeyPattern.FindStringSubmatch(msg.Content); match != nil {
			fieldKey = match[1]
		}
	}

	log.Printf("🧠 EXTRACTION REQUEST: model=%s field_key=%s", req.Model, fieldKey)

	var response completionResponse
	response.Choices = make([]struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	}, 1)
	response.Choices[0].Message.Role = "assistant"
	response.Choices[0].Message.Content = fmt.Sprintf(`{"%s": "customer support ticket triage"}`, fieldKey)
	response.Usage.TotalTokens = 42

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("✅ EXTRACTION RESPONSE SENT: %s", response.Choices[0].Message.Content)
}

func main() {
	http.HandleFunc("/v1/audio/speech", speechHandler)
	http.HandleFunc("/v1/audio/transcriptions", transcribeHandler)
	http.HandleFunc("/v1/chat/completions", completionHandler)

	port := ":9000"
	log.Printf("🚀 Test Speech Server starting on port %s", port)
	log.Printf("📡 Endpoints: /v1/audio/speech /v1/audio/transcriptions /v1/chat/completions")
	log.Println("💡 Point the synthesis, transcription and extraction endpoints at http://localhost:9000")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
