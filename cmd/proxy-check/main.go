// proxy-check is a validation CLI for proxy payloads: it decodes a hex
// payload captured off the mesh and prints what it carries, or encodes one
// from the command line.
// Usage:
//
//	go run ./cmd/proxy-check decode 0201<64 hex chars>
//	go run ./cmd/proxy-check encode subscribe <pubkey>... [--geohash u4pruyd]
//	go run ./cmd/proxy-check encode publish '<event json>'
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/SWAI-Ltd/meshproxy/internal/proto"
)

func main() {
	flags := pflag.NewFlagSet("proxy-check", pflag.ExitOnError)
	geohash := flags.String("geohash", "", "geohash context for encode subscribe")
	flags.Parse(os.Args[1:])

	if err := run(os.Stdout, flags.Args(), *geohash); err != nil {
		fmt.Fprintln(os.Stderr, "FAIL", err)
		os.Exit(1)
	}
}

func run(w io.Writer, args []string, geohash string) error {
	if len(args) < 2 {
		return errors.New("usage: proxy-check decode <hex> | encode <publish|event|subscribe|unsubscribe> <arg>...")
	}
	switch args[0] {
	case "decode":
		return decode(w, strings.Join(args[1:], ""))
	case "encode":
		m, err := buildMessage(args[1], args[2:], geohash)
		if err != nil {
			return err
		}
		b, err := proto.Encode(m)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, hex.EncodeToString(b))
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func decode(w io.Writer, s string) error {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("payload is not hex: %w", err)
	}
	m, err := proto.Decode(b)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "OK %s (%d bytes)\n", m.Type(), len(b))
	switch m := m.(type) {
	case proto.Publish:
		return printEvent(w, m.EventJSON)
	case proto.Event:
		return printEvent(w, m.EventJSON)
	case proto.Subscribe:
		for _, pk := range m.Pubkeys {
			fmt.Fprintln(w, "pubkey", pk)
		}
		if m.Geohash != "" {
			fmt.Fprintln(w, "geohash", m.Geohash)
		}
	case proto.Unsubscribe:
		for _, pk := range m.Pubkeys {
			fmt.Fprintln(w, "pubkey", pk)
		}
	}
	return nil
}

func printEvent(w io.Writer, raw string) error {
	var evt struct {
		ID     string `json:"id"`
		Pubkey string `json:"pubkey"`
		Kind   int    `json:"kind"`
	}
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		fmt.Fprintf(w, "body is not event JSON: %q\n", raw)
		return nil
	}
	fmt.Fprintf(w, "id %s\nkind %d\npubkey %s\n", evt.ID, evt.Kind, evt.Pubkey)
	return nil
}

func buildMessage(kind string, args []string, geohash string) (proto.Message, error) {
	switch kind {
	case "publish", "event":
		if len(args) != 1 {
			return nil, fmt.Errorf("encode %s takes exactly one event JSON argument", kind)
		}
		if !json.Valid([]byte(args[0])) {
			return nil, errors.New("argument is not valid JSON")
		}
		if kind == "publish" {
			return proto.Publish{EventJSON: args[0]}, nil
		}
		return proto.Event{EventJSON: args[0]}, nil
	case "subscribe":
		return proto.Subscribe{Pubkeys: args, Geohash: geohash}, nil
	case "unsubscribe":
		return proto.Unsubscribe{Pubkeys: args}, nil
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
}
