package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"

	"github.com/astromechza/lru-mirror/pkg/gateway"
	"github.com/astromechza/lru-mirror/pkg/mirror"
)

const helpText = `commands:
  set <key> <value> <expiry> [seconds|minutes|hours]
  get <key>
  del <key>
  show
  values on|off
  help`

// console is the terminal front end: it renders the mirror and turns typed
// commands into gateway calls.
type console struct {
	store   *mirror.Store
	gateway *gateway.Gateway

	outMu      sync.Mutex
	out        io.Writer
	showValues atomic.Bool
	wg         sync.WaitGroup

	// pending is claimed before a call is spawned, so a second command for
	// the same operation is refused even before the gateway marks it in flight.
	pending map[gateway.Op]*atomic.Bool
}

func newConsole(store *mirror.Store, out io.Writer) *console {
	pending := map[gateway.Op]*atomic.Bool{
		gateway.OpSet:    new(atomic.Bool),
		gateway.OpGet:    new(atomic.Bool),
		gateway.OpDelete: new(atomic.Bool),
	}
	return &console{store: store, out: out, pending: pending}
}

func (c *console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// render prints the current mirror as a table.
func (c *console) render() {
	snap := c.store.Snapshot()

	c.outMu.Lock()
	defer c.outMu.Unlock()
	if snap.Len() == 0 {
		_, _ = fmt.Fprintln(c.out, "(cache is empty)")
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	showValues := c.showValues.Load()
	if showValues {
		_, _ = fmt.Fprintln(tw, "KEY\tVALUE\tEXPIRY")
	} else {
		_, _ = fmt.Fprintln(tw, "KEY\tEXPIRY")
	}
	for _, k := range snap.Keys() {
		e, _ := snap.Get(k)
		if showValues {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", k, e.Value, e.Expiry)
		} else {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", k, e.Expiry)
		}
	}
	_ = tw.Flush()
}

func (c *console) onMessage(op gateway.Op, m gateway.Message) {
	if m.IsZero() {
		return
	}
	c.printf("[%s] %s: %s\n", op, m.Kind, m.Text)
}

// run reads commands until in is exhausted or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		if err := c.handle(ctx, scanner.Text()); err != nil {
			c.printf("%s\n", err)
		}
	}
	c.wg.Wait()
}

// handle executes one command line. Gateway calls run in the background;
// a second call for an operation that is still in flight is refused.
func (c *console) handle(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch strings.ToLower(fields[0]) {
	case "set":
		if len(fields) < 4 || len(fields) > 5 {
			return fmt.Errorf("usage: set <key> <value> <expiry> [unit]")
		}
		unit := gateway.Seconds
		if len(fields) == 5 {
			unit = gateway.ParseUnit(fields[4])
		}
		return c.async(gateway.OpSet, func() {
			c.gateway.SetItem(ctx, fields[1], fields[2], fields[3], unit)
		})
	case "get":
		if len(fields) != 2 {
			return fmt.Errorf("usage: get <key>")
		}
		return c.async(gateway.OpGet, func() {
			if value, m := c.gateway.GetItem(ctx, fields[1]); m.Kind == gateway.KindSuccess {
				c.printf("%s = %s\n", fields[1], value)
			}
		})
	case "del", "delete":
		if len(fields) != 2 {
			return fmt.Errorf("usage: del <key>")
		}
		return c.async(gateway.OpDelete, func() {
			c.gateway.DeleteItem(ctx, fields[1])
		})
	case "show":
		c.render()
	case "values":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return fmt.Errorf("usage: values on|off")
		}
		c.showValues.Store(fields[1] == "on")
		c.render()
	case "help":
		c.printf("%s\n", helpText)
	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return nil
}

func (c *console) async(op gateway.Op, fn func()) error {
	claim := c.pending[op]
	if !claim.CompareAndSwap(false, true) {
		return fmt.Errorf("%s already in flight", op)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer claim.Store(false)
		fn()
	}()
	return nil
}
