package wallet

import (
	"fmt"

	"github.com/kasware/kaswalletd/internal/keys"
	log "github.com/sirupsen/logrus"
)

// AddressKind distinguishes the two derivation chains.
type AddressKind int

const (
	AddressKindReceive AddressKind = iota
	AddressKindChange
)

func (k AddressKind) String() string {
	if k == AddressKindChange {
		return "change"
	}
	return "receive"
}

func (k AddressKind) chainNumber() uint32 {
	if k == AddressKindChange {
		return keys.ChainChange
	}
	return keys.ChainReceive
}

// Address is one derived wallet address. Derived once, never destroyed.
type Address struct {
	Index   uint32
	Kind    AddressKind
	Address string
	Key     *keys.Key
}

// addressChain is an advancing counter over one derivation chain. counter is
// the highest index ever reserved, cursor the index the UI treats as active;
// derived is a contiguous prefix, derived[i].Index == i. announced is the
// highest index ever reported as fresh: Reverse keeps the derived entry and
// the announcement, so re-reserving the same index after a rollback does not
// fire the callback again.
type addressChain struct {
	kind      AddressKind
	counter   uint32
	cursor    uint32
	announced uint32
	derived   []*Address
}

// AddressManager maintains the receive and change chains. Callers serialize
// through the wallet lock, the manager itself performs no locking and no
// I/O, derivation is pure computation on the HD root.
type AddressManager struct {
	root    *keys.HDRoot
	prefix  string
	receive *addressChain
	change  *addressChain

	byAddress map[string]*Address

	// onNewAddress fires for every freshly reserved address.
	onNewAddress func(*Address)
}

// NewAddressManager derives index 0 on both chains so the wallet has an
// active address from the start.
func NewAddressManager(root *keys.HDRoot, prefix string) (*AddressManager, error) {
	m := &AddressManager{
		root:      root,
		prefix:    prefix,
		receive:   &addressChain{kind: AddressKindReceive},
		change:    &addressChain{kind: AddressKindChange},
		byAddress: make(map[string]*Address),
	}
	if _, err := m.ensure(m.receive, 0); err != nil {
		return nil, err
	}
	if _, err := m.ensure(m.change, 0); err != nil {
		return nil, err
	}
	return m, nil
}

// SetNewAddressHandler installs the fresh-address callback.
func (m *AddressManager) SetNewAddressHandler(cb func(*Address)) {
	m.onNewAddress = cb
}

func (m *AddressManager) chain(kind AddressKind) *addressChain {
	if kind == AddressKindChange {
		return m.change
	}
	return m.receive
}

// ensure derives every missing index up to and including index, keeping the
// derived sequence contiguous.
func (m *AddressManager) ensure(c *addressChain, index uint32) (*Address, error) {
	for next := uint32(len(c.derived)); next <= index; next++ {
		key, err := m.root.DeriveKey(c.kind.chainNumber(), next)
		if err != nil {
			return nil, fmt.Errorf("derive %s address %d: %w", c.kind, next, err)
		}
		addr := &Address{
			Index:   next,
			Kind:    c.kind,
			Address: key.Address(m.prefix),
			Key:     key,
		}
		c.derived = append(c.derived, addr)
		m.byAddress[addr.Address] = addr
	}
	return c.derived[index], nil
}

// GetAddresses returns n addresses at indices [offset..offset+n) on the
// given chain, deriving any not yet cached. Probing ahead does not reserve
// indices, the counter is untouched.
func (m *AddressManager) GetAddresses(n uint32, kind AddressKind, offset uint32) ([]*Address, error) {
	c := m.chain(kind)
	if n == 0 {
		return nil, nil
	}
	if _, err := m.ensure(c, offset+n-1); err != nil {
		return nil, err
	}
	return c.derived[offset : offset+n], nil
}

// Next reserves and returns the next unused address on the chain.
func (m *AddressManager) Next(kind AddressKind) (*Address, error) {
	c := m.chain(kind)
	addr, err := m.ensure(c, c.counter+1)
	if err != nil {
		return nil, err
	}
	c.counter++
	c.cursor = c.counter
	m.announce(c, addr)
	return addr, nil
}

// Advance moves the counter forward by n, reserving every index it passes.
func (m *AddressManager) Advance(kind AddressKind, n uint32) error {
	if n == 0 {
		return nil
	}
	c := m.chain(kind)
	target := c.counter + n
	if _, err := m.ensure(c, target); err != nil {
		return err
	}
	for index := c.counter + 1; index <= target; index++ {
		m.announce(c, c.derived[index])
	}
	c.counter = target
	c.cursor = target
	return nil
}

// Reverse rolls the chain back one index, used to avoid burning a change
// address when a transaction build fails.
func (m *AddressManager) Reverse(kind AddressKind) {
	c := m.chain(kind)
	if c.counter == 0 {
		log.Warnf("AddressManager reverse on %s chain with counter 0", kind)
		return
	}
	c.counter--
	c.cursor = c.counter
}

// Current returns the cursor address of a chain.
func (m *AddressManager) Current(kind AddressKind) *Address {
	c := m.chain(kind)
	return c.derived[c.cursor]
}

// Counter returns the highest reserved index of a chain.
func (m *AddressManager) Counter(kind AddressKind) uint32 {
	return m.chain(kind).counter
}

// Get looks up a derived address on either chain.
func (m *AddressManager) Get(address string) *Address {
	return m.byAddress[address]
}

// IsOur reports whether the address was derived on either chain.
func (m *AddressManager) IsOur(address string) bool {
	_, ok := m.byAddress[address]
	return ok
}

// Addresses returns every derived address string across both chains.
func (m *AddressManager) Addresses() []string {
	out := make([]string, 0, len(m.receive.derived)+len(m.change.derived))
	for _, addr := range m.receive.derived {
		out = append(out, addr.Address)
	}
	for _, addr := range m.change.derived {
		out = append(out, addr.Address)
	}
	return out
}

// announce fires the fresh-address callback once per index. A reservation
// repeated after Reverse, as the fee convergence loop does with the change
// chain, stays silent.
func (m *AddressManager) announce(c *addressChain, addr *Address) {
	if addr.Index <= c.announced {
		return
	}
	c.announced = addr.Index
	log.Debugf("AddressManager new %s address %d: %s", addr.Kind, addr.Index, addr.Address)
	if m.onNewAddress != nil {
		m.onNewAddress(addr)
	}
}
