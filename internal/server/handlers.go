package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"hooky/internal/dispatch"
	"hooky/internal/history"
)

const (
	// GitHub caps webhook payloads at 25 MB
	MaxPayloadBytes = 25 << 20

	deliveryHeader = "X-GitHub-Delivery"
	eventHeader    = "X-GitHub-Event"

	noActionSuffix = ", no action taken"

	// recorded when the client disconnects before a response is written
	statusClientClosedRequest = 499
)

// delivery tracks one webhook request so its outcome can be logged,
// counted and recorded once the response is known.
type delivery struct {
	endpoint string
	start    time.Time
	outcome  string
}

// HandleIndex serves the pre-rendered info page.
func (s *Server) HandleIndex(page []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write(page)
		}
	}
}

// HandleFavicon serves favicon.ico from the asset filesystem.
func (s *Server) HandleFavicon(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(s.Assets, faviconFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.Logger.Error("Failed to read favicon", "error", err)
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/x-icon")
	http.ServeContent(w, r, faviconFile, time.Time{}, bytes.NewReader(data))
}

// HandleWebhook handles GitHub App webhook deliveries
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	d := &delivery{endpoint: history.EndpointWebhook, start: time.Now()}

	body, ok := s.readBody(w, r, d)
	if !ok {
		return
	}

	header, present := signatureHeader(r)
	v := Verify(&s.Settings.WebhookSecret, body, header, present)
	s.Metrics.ObserveVerification(d.endpoint, v.Outcome)
	d.outcome = v.Outcome.String()

	switch v.Outcome {
	case BadFormat:
		s.respondValidation(w, r, d, v.Validation, header)
		return
	case SignatureMismatch, SecretUnavailable:
		s.Logger.Warn("Invalid signature", "digest", v.Digest, "x_hub_signature_256", header)
		s.respondDetail(w, r, d, http.StatusForbidden, detailInvalidSignature)
		return
	}

	outcome, err := s.Dispatcher.Dispatch(r.Context(), body, s.Settings)
	if err != nil {
		var perr *dispatch.ProcessorError
		if errors.As(err, &perr) {
			d.outcome = "processor_error"
			if perr.Panic != nil {
				s.Logger.Error("Event processor panicked", "panic", perr.Panic, "stack", string(perr.Stack))
			} else {
				s.Logger.Error("Event processor failed", "error", perr.Err)
			}
			s.respondDetail(w, r, d, http.StatusInternalServerError, detailInternalError)
			return
		}

		// the caller left or the request timed out; the processor keeps going.
		// On timeout the Timeout middleware writes the 504. A disconnected
		// client never sees the 499, it is written for the request log.
		status := http.StatusGatewayTimeout
		if errors.Is(err, context.Canceled) {
			status = statusClientClosedRequest
			w.WriteHeader(status)
		}
		d.outcome = "abandoned"
		s.Logger.Warn("Stopped waiting for event processor", "error", err, "status", status)
		s.record(r, d, status, err.Error())
		return
	}

	s.Metrics.ObserveEvent(outcome.ActionTaken)
	d.outcome = "processed"

	status := http.StatusOK
	message := outcome.Message
	if !outcome.ActionTaken {
		status = http.StatusAccepted
		message += noActionSuffix
	}

	s.Logger.Info(message)
	s.respondText(w, r, d, status, message)
}

// HandleMarketplace handles GitHub Marketplace webhook deliveries. The body
// is logged for audit and nothing else is done with it.
func (s *Server) HandleMarketplace(w http.ResponseWriter, r *http.Request) {
	d := &delivery{endpoint: history.EndpointMarketplace, start: time.Now()}

	body, ok := s.readBody(w, r, d)
	if !ok {
		return
	}

	header, present := signatureHeader(r)
	v := Verify(s.Settings.MarketplaceSecret, body, header, present)
	s.Metrics.ObserveVerification(d.endpoint, v.Outcome)
	d.outcome = v.Outcome.String()

	switch v.Outcome {
	case BadFormat:
		s.respondValidation(w, r, d, v.Validation, header)
		return
	case SecretUnavailable:
		s.Logger.Warn("Marketplace webhook received but no marketplace secret is configured")
		s.respondDetail(w, r, d, http.StatusForbidden, detailMarketplaceSecretNotSet)
		return
	case SignatureMismatch:
		s.Logger.Warn("Invalid marketplace signature", "digest", v.Digest, "x_hub_signature_256", header)
		s.respondDetail(w, r, d, http.StatusForbidden, detailInvalidMarketplaceSignature)
		return
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		s.Logger.Warn("Marketplace webhook body is not valid JSON", "error", err)
		s.respondDetail(w, r, d, http.StatusBadRequest, detailInvalidJSON)
		return
	}

	s.Logger.Info("Marketplace webhook: " + pretty.String())
	s.respondText(w, r, d, http.StatusAccepted, "ok")
}

// readBody reads the whole request body. It writes the error response itself
// and returns false on failure.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, d *delivery) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			d.outcome = "too_large"
			s.respondDetail(w, r, d, http.StatusRequestEntityTooLarge, detailPayloadTooLarge)
			return nil, false
		}
		d.outcome = "read_failed"
		s.Logger.Error("Failed to read request body", "error", err, "endpoint", d.endpoint)
		s.respondDetail(w, r, d, http.StatusBadRequest, detailReadFailed)
		return nil, false
	}
	return body, true
}

// signatureHeader returns the first X-Hub-Signature-256 value and whether the
// header was sent at all. A header sent with an empty value is present.
func signatureHeader(r *http.Request) (string, bool) {
	values := r.Header.Values(SignatureHeader)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (s *Server) respondValidation(w http.ResponseWriter, r *http.Request, d *delivery, verr *ValidationError, header string) {
	s.Logger.Warn("Invalid signature header", "endpoint", d.endpoint, "error", verr.Msg, "x_hub_signature_256", header)
	s.respondJSON(w, http.StatusUnprocessableEntity, validationResponse{Detail: []ValidationError{*verr}})
	s.record(r, d, http.StatusUnprocessableEntity, verr.Msg)
}

func (s *Server) respondDetail(w http.ResponseWriter, r *http.Request, d *delivery, status int, detail string) {
	s.respondJSON(w, status, detailResponse{Detail: detail})
	s.record(r, d, status, detail)
}

func (s *Server) respondText(w http.ResponseWriter, r *http.Request, d *delivery, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, message)
	s.record(r, d, status, message)
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

// record writes the delivery log entry. Failures are logged only.
func (s *Server) record(r *http.Request, d *delivery, status int, message string) {
	if s.History == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()

	_, err := s.History.RecordDelivery(ctx, &history.DeliveryRecord{
		Endpoint:        d.endpoint,
		DeliveryID:      headerPtr(r, deliveryHeader),
		Event:           headerPtr(r, eventHeader),
		Status:          status,
		Outcome:         d.outcome,
		Message:         message,
		ReceivedAt:      d.start,
		DurationSeconds: time.Since(d.start).Seconds(),
	})
	if err != nil {
		s.Logger.Error("Failed to record delivery", "error", err, "endpoint", d.endpoint)
	}
}

func headerPtr(r *http.Request, name string) *string {
	if v := r.Header.Get(name); v != "" {
		return &v
	}
	return nil
}
