package engine

import (
	"fmt"

	"github.com/axi-im/axicore/internal/id"
	"github.com/axi-im/axicore/internal/store"
)

// CreateContact creates or updates a contact by address and returns its
// id.
func (c *Context) CreateContact(name, addr string) (id.Contact, error) {
	db, err := c.store()
	if err != nil {
		return 0, err
	}
	if addr == "" {
		return 0, fmt.Errorf("%w: empty address", ErrConfigValue)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	cid, err := db.CreateContact(name, addr)
	if err != nil {
		c.setLastErr(err)
		return 0, err
	}
	return cid, nil
}

// GetContact returns a contact by id.
func (c *Context) GetContact(cid id.Contact) (*store.Contact, error) {
	db, err := c.store()
	if err != nil {
		return nil, err
	}
	contact, err := db.GetContact(cid)
	if err != nil {
		c.setLastErr(err)
		return nil, err
	}
	return contact, nil
}

// LookupContactIDByAddr returns the contact id for an address, or zero.
func (c *Context) LookupContactIDByAddr(addr string) (id.Contact, error) {
	db, err := c.store()
	if err != nil {
		return 0, err
	}
	return db.LookupContactIDByAddr(addr)
}

// Contacts returns all real contact ids, insertion order.
func (c *Context) Contacts() ([]id.Contact, error) {
	db, err := c.store()
	if err != nil {
		return nil, err
	}
	return db.ListContactIDs()
}

// BlockContact excludes a contact from chat creation and message
// delivery. Reserved contacts can never be blocked.
func (c *Context) BlockContact(cid id.Contact) error {
	return c.setBlocked(cid, true)
}

// UnblockContact lifts a block.
func (c *Context) UnblockContact(cid id.Contact) error {
	return c.setBlocked(cid, false)
}

func (c *Context) setBlocked(cid id.Contact, blocked bool) error {
	db, err := c.store()
	if err != nil {
		return err
	}
	if cid.IsSpecial() {
		return fmt.Errorf("%w: contact %d", ErrSpecialID, cid)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := db.SetContactBlocked(cid, blocked); err != nil {
		c.setLastErr(err)
		return err
	}
	return nil
}
