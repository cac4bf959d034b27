package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/GyoHeon/chat-back/internal/auth"
	"github.com/GyoHeon/chat-back/internal/chat"
	"github.com/GyoHeon/chat-back/internal/identity"
	"github.com/GyoHeon/chat-back/internal/store"
)

// Handshake parameter names.
const (
	tenantHeader = "serverid"
	tenantQuery  = "serverId"
	tokenQuery   = "token"
	chatIDQuery  = "chatId"
)

// Directory is the part of the membership service the gate consults.
type Directory interface {
	Chat(ctx context.Context, chatID string) (store.Chat, error)
	EnsureUser(ctx context.Context, caller auth.Identity) error
}

var _ Directory = (*chat.Service)(nil)

// Gate admits connection attempts: it authenticates the caller, checks the
// tenant, and for chat rooms requires existing membership. It runs before
// the protocol upgrade so a rejected attempt never gets a socket.
type Gate struct {
	verifier  auth.Verifier
	directory Directory
}

// NewGate returns a Gate that checks credentials with verifier and
// membership with directory.
func NewGate(verifier auth.Verifier, directory Directory) *Gate {
	return &Gate{verifier: verifier, directory: directory}
}

// Admission is the outcome of a successful gate pass.
type Admission struct {
	Caller    auth.Identity
	Namespace string
	Room      string
	ChatID    string // qualified; chat namespace only
}

func requestTenant(r *http.Request) string {
	if tenant := strings.TrimSpace(r.Header.Get(tenantHeader)); tenant != "" {
		return tenant
	}
	return strings.TrimSpace(r.URL.Query().Get(tenantQuery))
}

func requestToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return auth.BearerToken(header)
	}
	if token := strings.TrimSpace(r.URL.Query().Get(tokenQuery)); token != "" {
		return token, nil
	}
	return "", errMissingCredential
}

// Authenticate resolves the caller and checks that the request's tenant is
// the caller's.
func (g *Gate) Authenticate(r *http.Request) (auth.Identity, error) {
	token, err := requestToken(r)
	if err != nil {
		return auth.Identity{}, err
	}
	caller, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		return auth.Identity{}, err
	}

	tenant := requestTenant(r)
	if tenant == "" {
		return auth.Identity{}, errMissingTenant
	}
	if tenant != caller.Tenant {
		return auth.Identity{}, errTenantMismatch
	}
	return caller, nil
}

// Admit runs every gate step for namespace.
func (g *Gate) Admit(r *http.Request, namespace string) (Admission, error) {
	caller, err := g.Authenticate(r)
	if err != nil {
		return Admission{}, err
	}
	if err := g.directory.EnsureUser(r.Context(), caller); err != nil {
		return Admission{}, err
	}

	adm := Admission{Caller: caller, Namespace: namespace}
	switch namespace {
	case NamespaceServer:
		adm.Room = serverRoom(caller.Tenant)
	case NamespaceChat:
		chatID, err := identity.Qualify(strings.TrimSpace(r.URL.Query().Get(chatIDQuery)), caller.Tenant)
		if err != nil {
			return Admission{}, fmt.Errorf("%w: chatId is required", chat.ErrValidation)
		}
		if err := g.member(r.Context(), chatID, caller.UserID); err != nil {
			return Admission{}, err
		}
		adm.Room = chatRoom(chatID)
		adm.ChatID = chatID
	default:
		return Admission{}, fmt.Errorf("%w: unknown namespace %q", chat.ErrValidation, namespace)
	}
	return adm, nil
}

// Recheck confirms that a chat admission still holds. A member who leaves
// between Admit and registration is not seen by the hub's CloseUser, so the
// connection is checked again once it is registered.
func (g *Gate) Recheck(ctx context.Context, adm Admission) error {
	if adm.Namespace != NamespaceChat {
		return nil
	}
	return g.member(ctx, adm.ChatID, adm.Caller.UserID)
}

func (g *Gate) member(ctx context.Context, chatID, userID string) error {
	c, err := g.directory.Chat(ctx, chatID)
	if err != nil {
		return err
	}
	if !c.HasUser(userID) {
		return chat.ErrNotAMember
	}
	return nil
}
