// Package spec models the document that declares the servers and channels an application talks to.
//
// A Specification is built once at startup, either programmatically or by an external parser,
// and is then treated as read-mostly state. The only mutations supported after construction are
// the controlled augmentations exposed here: adding channels, synthesizing the subscribe side of a
// publish-only channel and merging server bindings.
package spec

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/go-openapi/strfmt"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	DefaultContentType = "application/json"
	Version            = "2.0.0"
)

var (
	ErrNoServers       = errors.New("specification declares no servers")
	ErrServerNotFound  = errors.New("server not found")
	ErrAmbiguousServer = errors.New("server already declared")
	ErrInvalidServer   = errors.New("invalid server url")
)

type ProtocolType string

const (
	ProtocolKafka        ProtocolType = "kafka"
	ProtocolRedis        ProtocolType = "redis"
	ProtocolPostgres     ProtocolType = "postgres"
	ProtocolGCloudPubSub ProtocolType = "gcloud-pubsub"
	ProtocolNATS         ProtocolType = "nats"
	ProtocolJetStream    ProtocolType = "jetstream"
	ProtocolMongoDB      ProtocolType = "mongodb"
	ProtocolMemory       ProtocolType = "memory"
)

func (p ProtocolType) String() string { return string(p) }

type Contact struct {
	Name  string       `json:"name,omitempty"`
	URL   strfmt.URI   `json:"url,omitempty"`
	Email strfmt.Email `json:"email,omitempty"`
}

type License struct {
	Name string     `json:"name"`
	URL  strfmt.URI `json:"url,omitempty"`
}

type Info struct {
	Title          string   `json:"title"`
	Version        string   `json:"version"`
	Description    string   `json:"description,omitempty"`
	TermsOfService string   `json:"termsOfService,omitempty"`
	Contact        *Contact `json:"contact,omitempty"`
	License        *License `json:"license,omitempty"`
}

// Server is a connection descriptor. URL holds everything after the scheme, which can be a comma
// separated host list for clustered brokers.
type Server struct {
	Name        string            `json:"-"`
	URL         string            `json:"url"`
	Protocol    ProtocolType      `json:"protocol"`
	Description string            `json:"description,omitempty"`
	Bindings    map[string]string `json:"bindings,omitempty"`
}

// ConnectionURL renders the server as protocol://url?bindings with the bindings sorted by key.
func (s *Server) ConnectionURL() string {
	var b strings.Builder
	b.WriteString(string(s.Protocol))
	b.WriteString("://")
	b.WriteString(s.URL)
	if len(s.Bindings) == 0 {
		return b.String()
	}

	sep := "?"
	if strings.Contains(s.URL, "?") {
		sep = "&"
	}
	b.WriteString(sep)
	for i, k := range slices.Sorted(maps.Keys(s.Bindings)) {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(s.Bindings[k]))
	}
	return b.String()
}

type Operation struct {
	OperationID string   `json:"operationId,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
	Message     *Message `json:"message,omitempty"`
}

type Channel struct {
	Name        string     `json:"-"`
	Description string     `json:"description,omitempty"`
	Publish     *Operation `json:"publish,omitempty"`
	Subscribe   *Operation `json:"subscribe,omitempty"`
}

type Components struct {
	Messages *orderedmap.OrderedMap[string, *Message] `json:"messages,omitempty"`
}

type Specification struct {
	AsyncAPI           string                                   `json:"asyncapi"`
	Info               Info                                     `json:"info"`
	Servers            *orderedmap.OrderedMap[string, *Server]  `json:"servers,omitempty"`
	Channels           *orderedmap.OrderedMap[string, *Channel] `json:"channels"`
	Components         Components                               `json:"components,omitempty"`
	DefaultContentType string                                   `json:"defaultContentType,omitempty"`
}

// New creates an empty specification.
func New(info Info) *Specification {
	if info.Version == "" {
		info.Version = "1.0.0"
	}
	return &Specification{
		AsyncAPI:           Version,
		Info:               info,
		Servers:            orderedmap.New[string, *Server](),
		Channels:           orderedmap.New[string, *Channel](),
		Components:         Components{Messages: orderedmap.New[string, *Message]()},
		DefaultContentType: DefaultContentType,
	}
}

// AddServer declares a server from a protocol://address string. Query parameters in the address
// become the server bindings.
func (s *Specification) AddServer(name, address string) (*Server, error) {
	if _, ok := s.Servers.Get(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousServer, name)
	}

	protocol, rest, ok := strings.Cut(address, "://")
	if !ok || protocol == "" || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidServer, address)
	}

	srv := &Server{Name: name, Protocol: ProtocolType(protocol), URL: rest}
	if hosts, query, found := strings.Cut(rest, "?"); found {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidServer, address, err)
		}
		srv.URL = hosts
		srv.Bindings = make(map[string]string, len(values))
		for k, v := range values {
			if len(v) > 0 {
				srv.Bindings[k] = v[len(v)-1]
			}
		}
	}

	s.Servers.Set(name, srv)
	return srv, nil
}

// Server returns the named server. An empty name selects the last declared server.
func (s *Specification) Server(name string) (*Server, error) {
	if s.Servers == nil || s.Servers.Len() == 0 {
		return nil, ErrNoServers
	}
	if name == "" {
		return s.Servers.Newest().Value, nil
	}
	srv, ok := s.Servers.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	return srv, nil
}

// MergeServerBindings adds bindings to a declared server, overriding existing keys.
func (s *Specification) MergeServerBindings(name string, bindings map[string]string) error {
	srv, err := s.Server(name)
	if err != nil {
		return err
	}
	if srv.Bindings == nil {
		srv.Bindings = make(map[string]string, len(bindings))
	}
	maps.Copy(srv.Bindings, bindings)
	return nil
}

func (s *Specification) Channel(name string) (*Channel, bool) {
	if s.Channels == nil {
		return nil, false
	}
	return s.Channels.Get(name)
}

// ChannelNames returns the channel names in declaration order.
func (s *Specification) ChannelNames() []string {
	if s.Channels == nil {
		return nil
	}
	names := make([]string, 0, s.Channels.Len())
	for pair := s.Channels.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// AddChannel declares or replaces a channel and registers its messages as components.
func (s *Specification) AddChannel(ch *Channel) {
	if s.Channels == nil {
		s.Channels = orderedmap.New[string, *Channel]()
	}
	s.Channels.Set(ch.Name, ch)
	for _, op := range []*Operation{ch.Publish, ch.Subscribe} {
		if op != nil && op.Message != nil {
			s.addMessage(op.Message)
		}
	}
}

// EnsureSubscribe synthesizes the subscribe side of a publish-only channel, sharing its message.
// Channels that already have a subscribe operation only get the operation id filled in when it is missing.
func (s *Specification) EnsureSubscribe(channel, operationID string) (*Channel, bool) {
	ch, ok := s.Channel(channel)
	if !ok {
		return nil, false
	}
	if ch.Subscribe == nil {
		var msg *Message
		if ch.Publish != nil {
			msg = ch.Publish.Message
		}
		ch.Subscribe = &Operation{OperationID: operationID, Message: msg}
		return ch, true
	}
	if ch.Subscribe.OperationID == "" {
		ch.Subscribe.OperationID = operationID
	}
	return ch, true
}

func (s *Specification) addMessage(msg *Message) {
	if s.Components.Messages == nil {
		s.Components.Messages = orderedmap.New[string, *Message]()
	}
	if msg.Name == "" {
		return
	}
	s.Components.Messages.Set(componentName(msg.Name), msg)
}
