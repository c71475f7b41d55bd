package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/status-im/wallet-router/messenger"
)

// Messenger names owned by the per-origin selection.
const (
	ActionGetNetworkClientIDForDomain = "SelectedNetworkController:getNetworkClientIdForDomain"
	ActionSetNetworkClientIDForDomain = "SelectedNetworkController:setNetworkClientIdForDomain"
	EventSelectedNetworkChange        = "SelectedNetworkController:stateChange"
)

// DomainSelection is the payload of EventSelectedNetworkChange.
type DomainSelection struct {
	Domain          string `json:"domain"`
	NetworkClientID string `json:"networkClientId"`
}

// SelectedNetworkManager resolves which network client serves a given
// origin. Origins without an explicit selection follow the global one, so
// every request still resolves to a concrete client id at the single
// resolution point in the provider pipeline.
type SelectedNetworkManager struct {
	mu        sync.RWMutex
	perDomain map[string]string

	manager *Manager
	bus     *messenger.Restricted
}

// NewSelectedNetworkManager registers the selection actions on the hub.
func NewSelectedNetworkManager(hub *messenger.Messenger, manager *Manager) (*SelectedNetworkManager, error) {
	s := &SelectedNetworkManager{
		perDomain: make(map[string]string),
		manager:   manager,
		bus:       hub.NewRestricted("SelectedNetworkController", nil, []string{EventSelectedNetworkChange}),
	}

	if err := hub.RegisterAction(ActionGetNetworkClientIDForDomain, func(ctx context.Context, params interface{}) (interface{}, error) {
		domain, ok := params.(string)
		if !ok {
			return nil, fmt.Errorf("expected domain, got %T", params)
		}
		return s.NetworkClientIDForDomain(domain), nil
	}); err != nil {
		return nil, err
	}
	if err := hub.RegisterAction(ActionSetNetworkClientIDForDomain, func(ctx context.Context, params interface{}) (interface{}, error) {
		sel, ok := params.(DomainSelection)
		if !ok {
			return nil, fmt.Errorf("expected domain selection, got %T", params)
		}
		return nil, s.SetNetworkClientIDForDomain(sel.Domain, sel.NetworkClientID)
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// NetworkClientIDForDomain returns the origin's selection, falling back to
// the global one.
func (s *SelectedNetworkManager) NetworkClientIDForDomain(domain string) string {
	s.mu.RLock()
	id, ok := s.perDomain[domain]
	s.mu.RUnlock()
	if ok {
		return id
	}
	return s.manager.SelectedNetworkClientID()
}

// SetNetworkClientIDForDomain pins an origin to a network client.
func (s *SelectedNetworkManager) SetNetworkClientIDForDomain(domain, id string) error {
	if _, err := s.manager.GetNetworkClientByID(id); err != nil {
		return err
	}

	s.mu.Lock()
	changed := s.perDomain[domain] != id
	s.perDomain[domain] = id
	s.mu.Unlock()

	if changed {
		return s.bus.Publish(EventSelectedNetworkChange, DomainSelection{Domain: domain, NetworkClientID: id})
	}
	return nil
}

// ClearDomain removes an origin's pin, reverting it to the global
// selection. Used when permissions for the origin are revoked.
func (s *SelectedNetworkManager) ClearDomain(domain string) {
	s.mu.Lock()
	delete(s.perDomain, domain)
	s.mu.Unlock()
}
