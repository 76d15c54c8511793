package sstable

import (
	"encoding/binary"
	"fmt"

	"github.com/INLOpen/nexustable/core"
)

// Cursor iterates rows in key order.
//
//	c, err := t.NewCursor()
//	for ; c.Valid(); c.Next() { ... }
//	if err := c.Err(); err != nil { ... }
type Cursor struct {
	t     *Table
	block int
	data  []byte
	pos   int
	first bool

	key   uint64
	value []byte
	valid bool
	err   error
}

func (c *Cursor) Valid() bool { return c.valid }

func (c *Cursor) Key() uint64 { return c.key }

// Value is valid until the cursor moves to the next block.
func (c *Cursor) Value() []byte { return c.value }

func (c *Cursor) Err() error { return c.err }

// Next advances to the next row.
func (c *Cursor) Next() {
	if !c.valid {
		return
	}
	if c.pos >= len(c.data) {
		c.nextBlock()
		return
	}
	c.decodeRow()
}

func (c *Cursor) nextBlock() {
	c.valid = false
	for c.err == nil {
		c.block++
		if c.block >= len(c.t.index) {
			return
		}
		data, err := c.t.readBlock(c.block)
		if err != nil {
			c.err = err
			return
		}
		if len(data) == 0 {
			continue
		}
		c.data, c.pos, c.first = data, 0, true
		c.decodeRow()
		return
	}
}

func (c *Cursor) decodeRow() {
	k, n := binary.Uvarint(c.data[c.pos:])
	if n <= 0 {
		c.fail("key")
		return
	}
	c.pos += n
	if c.first {
		c.key = k
		c.first = false
	} else {
		c.key += k
	}
	l, n := binary.Uvarint(c.data[c.pos:])
	if n <= 0 || uint64(len(c.data)-c.pos-n) < l {
		c.fail("value")
		return
	}
	c.pos += n
	c.value = c.data[c.pos : c.pos+int(l)]
	c.pos += int(l)
	c.valid = true
}

func (c *Cursor) fail(what string) {
	c.valid = false
	c.err = fmt.Errorf("sstable %s: bad %s in block %d at %d: %w", c.t.path, what, c.block, c.pos, core.ErrCorrupted)
}
