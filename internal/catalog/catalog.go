package catalog

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dropDatabas3/grantd/internal/validation"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrScopeNotFound  = errors.New("scope not found")
)

// Catalog resuelve clientes y scopes. Se construye una vez desde configuración
// y es inmutable después: seguro para lectura concurrente sin locking.
type Catalog struct {
	clients map[string]*Client
	scopes  map[string]*Scope
}

// New valida y agrupa los registros configurados.
func New(clients []Client, scopes []Scope) (*Catalog, error) {
	c := &Catalog{
		clients: make(map[string]*Client, len(clients)),
		scopes:  make(map[string]*Scope, len(scopes)),
	}

	for i := range scopes {
		s := scopes[i]
		if !validation.ValidScopeName(s.Name) {
			return nil, fmt.Errorf("scope %q: invalid name", s.Name)
		}
		if _, dup := c.scopes[s.Name]; dup {
			return nil, fmt.Errorf("scope %q: duplicate", s.Name)
		}
		c.scopes[s.Name] = &s
	}

	for i := range clients {
		cl := clients[i]
		if strings.TrimSpace(cl.ClientID) == "" {
			return nil, errors.New("client with empty client_id")
		}
		if _, dup := c.clients[cl.ClientID]; dup {
			return nil, fmt.Errorf("client %q: duplicate", cl.ClientID)
		}
		if cl.Type == "" {
			cl.Type = ClientPublic
		}
		if cl.Type == ClientConfidential && cl.SecretHash == "" {
			return nil, fmt.Errorf("client %q: confidential client without secret_hash", cl.ClientID)
		}
		if cl.RefreshUsage == "" {
			cl.RefreshUsage = RefreshSingleUse
		}
		for _, s := range cl.Scopes {
			if _, ok := c.scopes[s]; !ok {
				return nil, fmt.Errorf("client %q: unknown scope %q", cl.ClientID, s)
			}
		}
		c.clients[cl.ClientID] = &cl
	}

	return c, nil
}

// GetClient busca un cliente por client_id.
func (c *Catalog) GetClient(clientID string) (*Client, error) {
	cl, ok := c.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return cl, nil
}

// GetScope busca un scope del catálogo.
func (c *Catalog) GetScope(name string) (*Scope, error) {
	s, ok := c.scopes[name]
	if !ok {
		return nil, ErrScopeNotFound
	}
	return s, nil
}

// IsScopeAllowed chequea catálogo + allowlist del cliente.
func (c *Catalog) IsScopeAllowed(cl *Client, scope string) bool {
	if _, ok := c.scopes[scope]; !ok {
		return false
	}
	for _, s := range cl.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// GrantTypeAllowed chequea la allowlist de grant types del cliente.
// Lista vacía no permite nada: los clientes declaran sus grants explícitamente.
func GrantTypeAllowed(cl *Client, grantType string) bool {
	for _, g := range cl.GrantTypes {
		if strings.EqualFold(g, grantType) {
			return true
		}
	}
	return false
}

// VerifyClientSecret compara el secreto presentado contra el hash bcrypt.
func (c *Catalog) VerifyClientSecret(cl *Client, secret string) bool {
	if cl.Type != ClientConfidential || cl.SecretHash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(cl.SecretHash), []byte(secret)) == nil
}

// HashSecret genera el hash bcrypt de un secreto (utilidad para seed/config).
func HashSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
