package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
)

// RecognitionService fronts the speech provider for pronunciation
// attempts: it reserves the seconds for the audio before calling the
// recognizer and refunds the charge if recognition fails. The charge
// therefore only sticks when the user actually got a transcript.
type RecognitionService struct {
	client  *speech.Client
	credits *CreditService
}

type RecognizeRequest struct {
	Audio           string  `json:"audio" validate:"required"`
	Encoding        string  `json:"encoding"`
	SampleRate      int     `json:"sample_rate"`
	LanguageCode    string  `json:"language_code"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type RecognizeResponse struct {
	Transcript        string  `json:"transcript"`
	Confidence        float32 `json:"confidence"`
	ChargedSeconds    int64   `json:"charged_seconds"`
	BasicRemainingSec int64   `json:"basic_remaining_seconds"`
	TopupRemainingSec int64   `json:"topup_remaining_seconds"`
}

func NewRecognitionService(credits *CreditService) *RecognitionService {
	ctx := context.Background()
	client, err := speech.NewClient(ctx)
	if err != nil {
		log.Printf("Warning: Failed to initialize speech client: %v", err)
		return &RecognitionService{client: nil, credits: credits}
	}
	return &RecognitionService{client: client, credits: credits}
}

// RecognizeAttempt runs one charged recognition attempt for a user.
func (s *RecognitionService) RecognizeAttempt(ctx context.Context, userID int64, req RecognizeRequest) (*RecognizeResponse, error) {
	audioBytes, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	if len(audioBytes) == 0 {
		return nil, errors.New("audio data is empty")
	}

	if req.Encoding == "" {
		req.Encoding = "LINEAR16"
	}
	if req.SampleRate == 0 {
		req.SampleRate = 16000
	}
	if req.LanguageCode == "" {
		req.LanguageCode = "en-US"
	}

	duration := s.audioDuration(req, len(audioBytes))

	reserved, err := s.credits.Reserve(ctx, userID, duration, "google")
	if err != nil {
		return nil, err
	}

	transcript, confidence, err := s.transcribe(ctx, req, audioBytes)
	if err != nil {
		log.Printf("[RECOGNITION] Attempt failed for user %d, refunding ledger %d: %v", userID, reserved.LedgerID, err)
		if rerr := s.credits.Refund(ctx, reserved.LedgerID, "recognition_failed"); rerr != nil {
			log.Printf("[RECOGNITION] Refund of ledger %d failed: %v", reserved.LedgerID, rerr)
		}
		return nil, err
	}

	bal, err := s.credits.balances.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &RecognizeResponse{
		Transcript:        transcript,
		Confidence:        confidence,
		ChargedSeconds:    reserved.ChargeSec,
		BasicRemainingSec: bal.BasicRemainingSec,
		TopupRemainingSec: bal.TopupRemainingSec,
	}, nil
}

// audioDuration derives the audio length. PCM formats are computed
// from the byte count; everything else relies on the client-supplied
// duration field.
func (s *RecognitionService) audioDuration(req RecognizeRequest, byteLen int) float64 {
	if req.DurationSeconds > 0 {
		return req.DurationSeconds
	}
	switch strings.ToUpper(req.Encoding) {
	case "LINEAR16":
		return float64(byteLen) / float64(req.SampleRate*2)
	case "MULAW":
		return float64(byteLen) / float64(req.SampleRate)
	}
	return 0
}

func (s *RecognitionService) transcribe(ctx context.Context, req RecognizeRequest, audioBytes []byte) (string, float32, error) {
	if s.client == nil {
		return "", 0, errors.New("speech client not configured")
	}

	encoding, err := parseEncoding(req.Encoding)
	if err != nil {
		return "", 0, err
	}

	speechReq := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            int32(req.SampleRate),
			LanguageCode:               req.LanguageCode,
			EnableAutomaticPunctuation: true,
			Model:                      "latest_short",
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: audioBytes,
			},
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := s.client.Recognize(timeoutCtx, speechReq)
	if err != nil {
		return "", 0, fmt.Errorf("recognition failed: %w", err)
	}
	if len(resp.Results) == 0 {
		return "", 0, errors.New("no transcription results")
	}

	var transcript strings.Builder
	var totalConfidence float32
	var count int
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			alternative := result.Alternatives[0]
			transcript.WriteString(alternative.Transcript)
			transcript.WriteString(" ")
			totalConfidence += alternative.Confidence
			count++
		}
	}
	if count == 0 {
		return "", 0, errors.New("no alternatives in results")
	}

	return strings.TrimSpace(transcript.String()), totalConfidence / float32(count), nil
}

// TranscribeAttempt is the HTTP entry point for a charged attempt.
// @Summary Recognize a pronunciation attempt
// @Description Charges the user for the audio length, runs speech recognition, refunds on failure
// @Tags recognition
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RecognizeRequest true "Audio payload"
// @Success 200 {object} RecognizeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Router /recognize [post]
func (s *RecognitionService) TranscribeAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 10 * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RecognizeRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	resp, err := s.RecognizeAttempt(r.Context(), userID, req)
	if err != nil {
		var insufficient *InsufficientCreditError
		switch {
		case errors.As(err, &insufficient):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]any{
				"error":                   "insufficient credit",
				"basic_remaining_seconds": insufficient.BasicRemainingSec,
				"topup_remaining_seconds": insufficient.TopupRemainingSec,
				"required_seconds":        insufficient.RequiredSec,
			})
		case errors.Is(err, ErrInvalidDuration):
			SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		default:
			log.Printf("[RECOGNITION] Attempt failed for user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to recognize audio", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func parseEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}

func (s *RecognitionService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
