package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/chat"
)

func listMessagesHandler(svc ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		msgs, err := svc.History(r.Context(), p, id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		if msgs == nil {
			msgs = []chat.Message{}
		}

		writeJSON(w, http.StatusOK, msgs)
	}
}

func sendMessageHandler(svc ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		var req SendMessageRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, r, log, err)
			return
		}

		msg, err := svc.Send(r.Context(), p, id, req.Text)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, msg)
	}
}

func openChatHandler(svc ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		msgs, err := svc.Open(r.Context(), p, id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		if msgs == nil {
			msgs = []chat.Message{}
		}

		writeJSON(w, http.StatusOK, msgs)
	}
}

func unreadCountHandler(svc ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		n, err := svc.UnreadCount(r.Context(), p, id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, UnreadResponse{ChatID: id, Unread: n})
	}
}

func unreadCountsHandler(svc ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}

		counts, err := svc.UnreadCounts(r.Context(), p)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		resp := make([]UnreadResponse, 0, len(counts))
		for id, n := range counts {
			resp = append(resp, UnreadResponse{ChatID: id, Unread: n})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func submitRatingHandler(svc RatingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		var req RatingRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, r, log, err)
			return
		}

		res, err := svc.Submit(r.Context(), p, id, req.Stars)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, res)
	}
}
