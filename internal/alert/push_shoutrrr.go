package alert

import (
	"context"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/ordersentry/ordersentry/internal/errors"
)

// ShoutrrrProvider sends via nicholas-fedor/shoutrrr. One sender covers all
// configured URLs (Telegram, Slack, Discord, ntfy, ...).
type ShoutrrrProvider struct {
	name    string
	enabled bool
	urls    []string
	types   map[string]bool
	sender  *router.ServiceRouter
	timeout time.Duration
}

// NewShoutrrrProvider creates a shoutrrr-backed push provider. An empty
// supportedTypes list means all notification types.
func NewShoutrrrProvider(name string, enabled bool, urls, supportedTypes []string, timeout time.Duration) *ShoutrrrProvider {
	sp := &ShoutrrrProvider{
		name:    strings.TrimSpace(name),
		enabled: enabled,
		urls:    slices.Clone(urls),
		types:   map[string]bool{},
		timeout: timeout,
	}
	if sp.name == "" {
		sp.name = "shoutrrr"
	}
	if len(supportedTypes) == 0 {
		sp.types[string(TypeNewOrder)] = true
		sp.types[string(TypeEscalation)] = true
	} else {
		for _, t := range supportedTypes {
			sp.types[t] = true
		}
	}
	return sp
}

func (s *ShoutrrrProvider) GetName() string          { return s.name }
func (s *ShoutrrrProvider) IsEnabled() bool          { return s.enabled }
func (s *ShoutrrrProvider) SupportsType(t Type) bool { return s.types[string(t)] }

// ValidateConfig builds the sender, which validates every URL.
func (s *ShoutrrrProvider) ValidateConfig() error {
	if !s.enabled {
		return nil
	}
	if len(s.urls) == 0 {
		return errors.Newf("at least one URL is required").
			Component("alert").
			Category(errors.CategoryConfiguration).
			Context("provider", s.name).
			Build()
	}
	sender, err := shoutrrr.CreateSender(s.urls...)
	if err != nil {
		return errors.New(err).
			Component("alert").
			Category(errors.CategoryConfiguration).
			Context("provider", s.name).
			Build()
	}
	s.sender = sender
	if s.timeout > 0 {
		s.sender.Timeout = s.timeout
	}
	s.sender.SetLogger(log.New(io.Discard, "", 0))
	return nil
}

// Send delivers the notification body to every configured URL. Service
// errors are marked retryable; the router handles its own timeouts.
func (s *ShoutrrrProvider) Send(ctx context.Context, n *Notification) error {
	if s.sender == nil {
		return errors.Newf("shoutrrr sender not initialized").
			Component("alert").
			Category(errors.CategoryState).
			Context("provider", s.name).
			Build()
	}
	_ = ctx

	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	errs := s.sender.Send(n.Message, &params)
	for _, e := range errs {
		if e != nil {
			return &ProviderError{Err: e, Retryable: true}
		}
	}
	return nil
}
