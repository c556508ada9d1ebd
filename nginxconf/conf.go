// Package nginxconf reads, edits and writes block-structured server configuration files.
package nginxconf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrNoBlock is returned when a block path does not resolve.
var ErrNoBlock = errors.New("configuration block not found")

// Directive is a single statement. Block is nil for simple directives.
// Args hold raw tokens, including any quotes.
type Directive struct {
	Name  string
	Args  []string
	Block *Block
}

// NewDirective builds a simple directive.
func NewDirective(name string, args ...string) *Directive {
	return &Directive{Name: name, Args: args}
}

// NewBlock builds a block directive holding children.
func NewBlock(name string, args []string, children ...*Directive) *Directive {
	return &Directive{Name: name, Args: args, Block: &Block{Directives: children}}
}

// Header returns the name and args joined by single spaces, e.g. "preset main".
func (d *Directive) Header() string {
	if len(d.Args) == 0 {
		return d.Name
	}
	return d.Name + " " + strings.Join(d.Args, " ")
}

// Block is an ordered list of directives. The top level of a file is a Block.
type Block struct {
	Directives []*Directive
}

// Find resolves a path of block headers, e.g. ["http", "server"] or ["live", "preset main"].
// The first matching block is taken at each level; an empty path returns b.
func (b *Block) Find(path ...string) (*Block, error) {
	cur := b
	for i, header := range path {
		var next *Block
		for _, d := range cur.Directives {
			if d.Block != nil && d.Header() == header {
				next = d.Block
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoBlock, strings.Join(path[:i+1], " > "))
		}
		cur = next
	}
	return cur, nil
}

// Append adds d at the end of the block at path.
func (b *Block) Append(path []string, d *Directive) error {
	target, err := b.Find(path...)
	if err != nil {
		return err
	}
	target.Directives = append(target.Directives, d)
	return nil
}

// Insert adds d at the start of the block at path.
func (b *Block) Insert(path []string, d *Directive) error {
	target, err := b.Find(path...)
	if err != nil {
		return err
	}
	target.Directives = append([]*Directive{d}, target.Directives...)
	return nil
}

// Lookup returns the first simple or block directive named name directly inside b.
func (b *Block) Lookup(name string) *Directive {
	for _, d := range b.Directives {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// Remove deletes every directive named name directly inside b.
func (b *Block) Remove(name string) {
	kept := b.Directives[:0]
	for _, d := range b.Directives {
		if d.Name != name {
			kept = append(kept, d)
		}
	}
	b.Directives = kept
}

// WriteTo writes the block in configuration file syntax.
func (b *Block) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}
	writeBlock(cw, b, 0)
	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, bw.Flush()
}

// Bytes returns the serialized block.
func (b *Block) Bytes() []byte {
	var buf bytes.Buffer
	b.WriteTo(&buf)
	return buf.Bytes()
}

// WriteFile writes the block to path.
func (b *Block) WriteFile(path string) error {
	if err := os.WriteFile(path, b.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write configuration %s: %w", path, err)
	}
	return nil
}

// Clone returns a deep copy.
func (b *Block) Clone() *Block {
	out := &Block{Directives: make([]*Directive, 0, len(b.Directives))}
	for _, d := range b.Directives {
		c := &Directive{Name: d.Name, Args: append([]string(nil), d.Args...)}
		if d.Block != nil {
			c.Block = d.Block.Clone()
		}
		out.Directives = append(out.Directives, c)
	}
	return out
}

// Fingerprint hashes the serialized block.
func Fingerprint(b *Block) uint64 {
	return xxhash.Sum64(b.Bytes())
}

// SingleProcess turns off daemonization and the master process.
func SingleProcess(b *Block) error {
	b.Remove("daemon")
	b.Remove("master_process")
	b.Directives = append(b.Directives,
		NewDirective("daemon", "off"),
		NewDirective("master_process", "off"),
	)
	return nil
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) write(s string) {
	if c.err != nil {
		return
	}
	n, err := io.WriteString(c.w, s)
	c.n += int64(n)
	c.err = err
}

func writeBlock(w *countingWriter, b *Block, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, d := range b.Directives {
		w.write(indent)
		w.write(d.Header())
		if d.Block == nil {
			w.write(";\n")
			continue
		}
		w.write(" {\n")
		writeBlock(w, d.Block, depth+1)
		w.write(indent)
		w.write("}\n")
	}
}
