// Package command implements the AMF0 command/data message codec
// sitting on top of internal/amf: NetConnection/NetStream invoke
// packets (connect, createStream, publish, play, ...) and the
// "@setDataFrame"/onMetaData data-channel messages.
package command

import "github.com/docterling/rtmp-bridge-server/internal/amf"

// Command is a decoded AMF0 command (RTMP_TYPE_INVOKE /
// RTMP_TYPE_FLEX_MESSAGE payload): a command name, a transaction id,
// and a named, ordered set of further arguments.
type Command struct {
	Name string
	Args map[string]*amf.Value

	order []string
}

// NewCommand builds an outbound command with the given name.
func NewCommand(name string) Command {
	return Command{Name: name, Args: make(map[string]*amf.Value)}
}

// Set attaches an argument under name, recording it in encode order.
func (c *Command) Set(name string, v amf.Value) {
	if _, exists := c.Args[name]; !exists {
		c.order = append(c.order, name)
	}
	c.Args[name] = &v
}

// GetArg returns the named argument, or an AMF undefined value (never
// nil) if absent.
func (c *Command) GetArg(name string) *amf.Value {
	if v, ok := c.Args[name]; ok && v != nil {
		return v
	}
	n := amf.NewValue(amf.TypeUndefined)
	return &n
}

// String renders a debug representation of the command.
func (c *Command) String() string {
	s := c.Name + "("
	for i, name := range c.order {
		if i > 0 {
			s += ", "
		}
		s += name + "=" + c.Args[name].String("")
	}
	return s + ")"
}

// Encode serializes the command as an AMF0 command message body:
// name, transId (or 0 if unset), then each further argument in the
// order it was set on this Command.
func (c *Command) Encode() []byte {
	out := amf.EncodeOne(amf.NewString(c.Name))

	if tid, ok := c.Args["transId"]; ok {
		out = append(out, amf.EncodeOne(*tid)...)
	} else {
		out = append(out, amf.EncodeOne(amf.NewNumber(0))...)
	}

	for _, name := range c.order {
		if name == "transId" {
			continue
		}
		out = append(out, amf.EncodeOne(*c.Args[name])...)
	}

	return out
}

// Data is a decoded AMF0 data-channel message (RTMP_TYPE_DATA /
// RTMP_TYPE_FLEX_STREAM payload): a tag such as "@setDataFrame" or
// "onMetaData", plus named arguments.
type Data struct {
	Tag  string
	Args map[string]*amf.Value

	order []string
}

// NewData builds an outbound data message with the given tag.
func NewData(tag string) Data {
	return Data{Tag: tag, Args: make(map[string]*amf.Value)}
}

// Set attaches an argument under name, recording it in encode order.
func (d *Data) Set(name string, v amf.Value) {
	if _, exists := d.Args[name]; !exists {
		d.order = append(d.order, name)
	}
	d.Args[name] = &v
}

// GetArg returns the named argument, or an AMF undefined value (never
// nil) if absent.
func (d *Data) GetArg(name string) *amf.Value {
	if v, ok := d.Args[name]; ok && v != nil {
		return v
	}
	n := amf.NewValue(amf.TypeUndefined)
	return &n
}

// String renders a debug representation of the data message.
func (d *Data) String() string {
	s := d.Tag + "("
	for i, name := range d.order {
		if i > 0 {
			s += ", "
		}
		s += name + "=" + d.Args[name].String("")
	}
	return s + ")"
}

// Encode serializes the data message as tag + each argument in set order.
func (d *Data) Encode() []byte {
	out := amf.EncodeOne(amf.NewString(d.Tag))
	for _, name := range d.order {
		out = append(out, amf.EncodeOne(*d.Args[name])...)
	}
	return out
}
