package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/GyoHeon/chat-back/internal/auth"
	"github.com/GyoHeon/chat-back/internal/chat"
)

type chatIDRequest struct {
	ChatID string `json:"chatId"`
}

type inviteRequest struct {
	ChatID string   `json:"chatId"`
	Users  []string `json:"users"`
}

type profileRequest struct {
	Name    *string `json:"name"`
	Picture *string `json:"picture"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type chatsResponse struct {
	Chats []chat.ChatView `json:"chats"`
}

type usersResponse struct {
	Users []chat.UserView `json:"users"`
}

type userResponse struct {
	User chat.UserView `json:"user"`
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", chat.ErrValidation, err)
	}
	return nil
}

// mustCaller returns the identity authenticate stored. Routes mounted
// without authenticate never call it.
func mustCaller(r *http.Request) auth.Identity {
	caller, _ := callerFrom(r.Context())
	return caller
}

func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	var in chat.CreateInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.service.Create(r.Context(), mustCaller(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat.NewChatView(c))
}

func (s *Server) participateChat(w http.ResponseWriter, r *http.Request) {
	var in chatIDRequest
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.service.Participate(r.Context(), mustCaller(r), in.ChatID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat.NewChatView(c))
}

func (s *Server) inviteChat(w http.ResponseWriter, r *http.Request) {
	var in inviteRequest
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.service.Invite(r.Context(), mustCaller(r), in.ChatID, in.Users)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat.NewChatView(c))
}

func (s *Server) leaveChat(w http.ResponseWriter, r *http.Request) {
	var in chatIDRequest
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	deleted, err := s.service.Leave(r.Context(), mustCaller(r), in.ChatID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msg := "left the chat"
	if deleted {
		msg = "left the chat; chat deleted"
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// listPublicChats needs only the tenant header.
func (s *Server) listPublicChats(w http.ResponseWriter, r *http.Request) {
	tenant := requestTenant(r)
	if tenant == "" {
		s.writeError(w, r, errMissingTenant)
		return
	}
	chats, err := s.service.ListPublic(r.Context(), tenant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatsResponse{Chats: chat.NewChatViews(chats)})
}

func (s *Server) listMyChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.service.ListMine(r.Context(), mustCaller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatsResponse{Chats: chat.NewChatViews(chats)})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.Users(r.Context(), mustCaller(r).Tenant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: chat.NewUserViews(users)})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	rawID := strings.TrimSpace(r.URL.Query().Get("userId"))
	u, err := s.service.User(r.Context(), mustCaller(r).Tenant, rawID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: chat.NewUserView(u)})
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in profileRequest
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.service.UpdateProfile(r.Context(), mustCaller(r), in.Name, in.Picture); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "profile updated"})
}

func (s *Server) resetTenant(includeUsers bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.ResetTenant(r.Context(), mustCaller(r), includeUsers); err != nil {
			s.writeError(w, r, err)
			return
		}
		msg := "chats deleted"
		if includeUsers {
			msg = "server data deleted"
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: msg})
	}
}

func (s *Server) reconcileTenant(w http.ResponseWriter, r *http.Request) {
	rep, err := s.service.Reconcile(r.Context(), mustCaller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
