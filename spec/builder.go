package spec

import (
	"reflect"
	"strings"

	"github.com/fogfish/opts"
	"github.com/go-openapi/swag"
)

type channelOptions struct {
	description string
	name        string
	title       string
	summary     string
	contentType string
}

type ChannelOption = opts.Option[channelOptions]

var (
	WithDescription    = opts.ForName[channelOptions, string]("description")
	WithMessageName    = opts.ForName[channelOptions, string]("name")
	WithMessageTitle   = opts.ForName[channelOptions, string]("title")
	WithMessageSummary = opts.ForName[channelOptions, string]("summary")
	WithContentType    = opts.ForName[channelOptions, string]("contentType")
)

// Subscribe declares a channel carrying T payloads that the application both publishes to and
// consumes with the handler registered under operationID. The message name defaults to the channel
// name in camel case.
func Subscribe[T any](s *Specification, channel, operationID string, options ...ChannelOption) (*Channel, error) {
	return declare(s, channel, operationID, reflect.TypeFor[T](), true, options)
}

// Publish declares a channel the application only publishes T payloads to.
func Publish[T any](s *Specification, channel string, options ...ChannelOption) (*Channel, error) {
	return declare(s, channel, "", reflect.TypeFor[T](), false, options)
}

// SubscribeUntyped is Subscribe for channels whose payload is passed through as decoded JSON.
func SubscribeUntyped(s *Specification, channel, operationID string, options ...ChannelOption) (*Channel, error) {
	return declare(s, channel, operationID, nil, true, options)
}

func declare(s *Specification, channel, operationID string, payload reflect.Type, subscribe bool, options []ChannelOption) (*Channel, error) {
	o := channelOptions{contentType: DefaultContentType}
	if err := opts.Apply(&o, options); err != nil {
		return nil, err
	}

	name := o.name
	if name == "" {
		name = channel
	}
	msg := &Message{
		Name:        messageName(name),
		Title:       o.title,
		Summary:     o.summary,
		ContentType: o.contentType,
		Payload:     payload,
	}

	ch := &Channel{
		Name:        channel,
		Description: o.description,
		Publish:     &Operation{Message: msg},
	}
	if subscribe {
		ch.Subscribe = &Operation{OperationID: operationID, Message: msg}
	}
	s.AddChannel(ch)
	return ch, nil
}

var nameSeparators = strings.NewReplacer("/", "_", "#", "_", " ", "_", ".", "_", "-", "_")

// messageName turns a channel name like "user/signed-up" into "userSignedUp".
func messageName(name string) string {
	return swag.ToVarName(nameSeparators.Replace(name))
}

func componentName(name string) string {
	return swag.ToGoName(nameSeparators.Replace(name))
}
