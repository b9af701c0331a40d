package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"

	"github.com/azcx/imagehost/internal/fanout"
)

type subscriptionRequest struct {
	Email string `json:"email"`
}

// Subscription is a handler managing email subscriptions to upload
// notifications.
type Subscription struct {
	broker      Broker
	unsubscribe bool
}

// NewSubscribe creates a handler that subscribes an email address.
func NewSubscribe(broker Broker) *Subscription {
	return &Subscription{broker: broker}
}

// NewUnsubscribe creates a handler that removes an email subscription.
func NewUnsubscribe(broker Broker) *Subscription {
	return &Subscription{broker: broker, unsubscribe: true}
}

// ServeHTTP handles incoming HTTP subscription requests.
func (h *Subscription) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		slog.Error("Invalid subscription request body", "err", err)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}

	if h.unsubscribe {
		err := h.broker.Unsubscribe(r.Context(), req.Email)
		if errors.Is(err, fanout.ErrSubscriptionNotFound) {
			http.Error(w, "No subscription found for this address", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "Error removing subscription", http.StatusInternalServerError)
			slog.Error("Error removing subscription", "err", err)
			return
		}

		writeMessage(w, fmt.Sprintf("Unsubscription request sent for %s.", req.Email))
		return
	}

	if err := h.broker.Subscribe(r.Context(), req.Email); err != nil {
		http.Error(w, "Error creating subscription", http.StatusInternalServerError)
		slog.Error("Error creating subscription", "err", err)
		return
	}

	writeMessage(w, fmt.Sprintf("Subscription request sent to %s. Please confirm the subscription.", req.Email))
}

func writeMessage(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"message": msg}); err != nil {
		slog.Error("Error encoding subscription response", "err", err)
	}
}
