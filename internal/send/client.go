package send

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Result is what the provider hands back on a successful send.
type Result struct {
	ProviderMessageID string
}

// ProviderError carries the provider's error code so the worker can classify
// it (rate limited, transient, permanent).
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// Client is the outbound messaging provider. The real HTTP client lives
// outside this core; it only needs to honour this shape.
type Client interface {
	Send(ctx context.Context, tenantID int, to, body string) (*Result, error)
}

// SandboxClient fakes the provider for tests, the seeder and local dev.
// Failures can be scripted per phone number.
type SandboxClient struct {
	mu       sync.Mutex
	failures map[string]*ProviderError
	sent     []SandboxSend
}

type SandboxSend struct {
	TenantID int
	To       string
	Body     string
}

func NewSandboxClient() *SandboxClient {
	return &SandboxClient{failures: make(map[string]*ProviderError)}
}

// FailWith makes every send to the given phone fail with the provider code
// until cleared.
func (c *SandboxClient) FailWith(phone, code, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[phone] = &ProviderError{Code: code, Message: message}
}

func (c *SandboxClient) ClearFailure(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, phone)
}

func (c *SandboxClient) Send(ctx context.Context, tenantID int, to, body string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failures[to]; ok {
		return nil, err
	}

	c.sent = append(c.sent, SandboxSend{TenantID: tenantID, To: to, Body: body})
	return &Result{ProviderMessageID: uuid.NewString()}, nil
}

// Sent returns a copy of everything accepted so far.
func (c *SandboxClient) Sent() []SandboxSend {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SandboxSend, len(c.sent))
	copy(out, c.sent)
	return out
}
