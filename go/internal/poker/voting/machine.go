// Package voting enforces the legal transitions of a planning poker
// session: item selection, voting, reveal, reset and advance.
//
// The machine reads the local projection and emits writes through a Writer
// without waiting for them. Every accepted transition is also applied to
// the projection right away, so the next command is checked against it
// even before the store echoes the writes back. Admin checks trust the
// flag the caller asserts.
package voting

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/poker/state"
)

// NoticeNoMoreItems is reported when advancing past the last item.
const NoticeNoMoreItems = "No more items"

// NoticeAlreadySelected is reported when selecting the current item again.
const NoticeAlreadySelected = "Item already selected"

// Writer receives the store writes for each transition. Calls must not
// block on the store.
type Writer interface {
	AddItem(item models.Item)
	UpdateItem(id string, fields map[string]any)
	SetCurrentItem(item *models.Item)
	SetRevealed(revealed bool)
	SetVote(name, value string)
	ClearVotes()
	UpdateParticipant(name string, fields map[string]any)
}

// Actor is the participant issuing a command.
type Actor struct {
	Name    string
	IsAdmin bool
}

// Result describes an accepted command. Changed is false for no-ops, which
// carry a Notice for the caller to show.
type Result struct {
	Changed bool
	Notice  string
}

// Machine runs commands for one session. Commands are serialized.
type Machine struct {
	mu     sync.Mutex
	state  *state.State
	writer Writer
}

func New(st *state.State, w Writer) *Machine {
	return &Machine{state: st, writer: w}
}

func (m *Machine) AddItem(actor Actor, description string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkActor(actor); err != nil {
		return Result{}, err
	}
	if !actor.IsAdmin {
		return Result{}, forbidden("Only admin can add items")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return Result{}, invalid("Please enter an item description")
	}
	m.writer.AddItem(models.Item{Description: description, Status: models.ItemStatusPending})
	return Result{Changed: true}, nil
}

// SelectItem makes itemID the current item. Anyone may pick the first item;
// switching away from a current item needs an admin.
func (m *Machine) SelectItem(actor Actor, itemID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkActor(actor); err != nil {
		return Result{}, err
	}
	snap := m.state.Snapshot()
	item, _, ok := snap.Item(itemID)
	if !ok {
		return Result{}, invalid("Item not found")
	}
	current := snap.CurrentItemID()
	if current == itemID {
		return Result{Notice: NoticeAlreadySelected}, nil
	}
	if current != "" && !actor.IsAdmin {
		return Result{}, forbidden("Only admin can change items")
	}
	m.selectItem(snap, item)
	return Result{Changed: true}, nil
}

func (m *Machine) selectItem(snap state.Snapshot, item models.Item) {
	for _, it := range snap.VotingItems() {
		if it.ID != item.ID {
			m.writer.UpdateItem(it.ID, map[string]any{"status": models.ItemStatusPending})
		}
	}
	item.Status = models.ItemStatusVoting
	m.writer.UpdateItem(item.ID, map[string]any{"status": item.Status})
	m.writer.SetCurrentItem(&item)
	m.writer.SetRevealed(false)
	m.clearVotes(snap)

	for _, it := range snap.VotingItems() {
		if it.ID != item.ID {
			m.state.SetLocalItemStatus(it.ID, models.ItemStatusPending)
		}
	}
	m.state.SetLocalItemStatus(item.ID, item.Status)
	m.state.SetLocalCurrentItem(&item)
	m.state.SetLocalRevealed(false)
}

func (m *Machine) clearVotes(snap state.Snapshot) {
	m.writer.ClearVotes()
	for name := range snap.Participants {
		m.writer.UpdateParticipant(name, map[string]any{"hasVoted": false})
	}
	m.state.ClearLocalVotes()
}

// CastVote records the actor's card for the current item, replacing any
// earlier vote.
func (m *Machine) CastVote(actor Actor, value string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkActor(actor); err != nil {
		return Result{}, err
	}
	snap := m.state.Snapshot()
	if snap.Revealed {
		return Result{}, precondition("Voting has ended for this item")
	}
	if snap.CurrentItemID() == "" {
		return Result{}, precondition("Please select an item first")
	}
	deck := snap.DeckType()
	if !deck.Accepts(value) {
		return Result{}, invalid(fmt.Sprintf("%q is not a card in the %s deck", value, deck))
	}

	m.writer.SetVote(actor.Name, value)
	m.writer.UpdateParticipant(actor.Name, map[string]any{"hasVoted": true})
	m.state.SetLocalVote(actor.Name, value)
	return Result{Changed: true}, nil
}

// Reveal shows every vote and completes the current item. Revealing again
// repeats the same writes.
func (m *Machine) Reveal(actor Actor) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkActor(actor); err != nil {
		return Result{}, err
	}
	if !actor.IsAdmin {
		return Result{}, forbidden("Only admin can reveal votes")
	}
	snap := m.state.Snapshot()
	id := snap.CurrentItemID()
	if id == "" {
		return Result{}, precondition("No item selected")
	}
	m.writer.SetRevealed(true)
	m.writer.UpdateItem(id, map[string]any{"status": models.ItemStatusCompleted})
	m.state.SetLocalRevealed(true)
	m.state.SetLocalItemStatus(id, models.ItemStatusCompleted)
	return Result{Changed: true}, nil
}

// Reset hides and clears the votes and reopens the current item.
func (m *Machine) Reset(actor Actor) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkActor(actor); err != nil {
		return Result{}, err
	}
	if !actor.IsAdmin {
		return Result{}, forbidden("Only admin can reset votes")
	}
	snap := m.state.Snapshot()
	m.writer.SetRevealed(false)
	if id := snap.CurrentItemID(); id != "" {
		m.writer.UpdateItem(id, map[string]any{"status": models.ItemStatusVoting})
		m.state.SetLocalItemStatus(id, models.ItemStatusVoting)
	}
	m.clearVotes(snap)
	m.state.SetLocalRevealed(false)
	return Result{Changed: true}, nil
}

// Advance selects the item after the current one, or the first item when
// nothing is current.
func (m *Machine) Advance(actor Actor) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkActor(actor); err != nil {
		return Result{}, err
	}
	if !actor.IsAdmin {
		return Result{}, forbidden("Only admin can move to next item")
	}
	snap := m.state.Snapshot()
	_, idx, _ := snap.Item(snap.CurrentItemID())
	next := idx + 1
	if next >= len(snap.Items) {
		return Result{Notice: NoticeNoMoreItems}, nil
	}
	m.selectItem(snap, snap.Items[next])
	return Result{Changed: true}, nil
}

func checkActor(actor Actor) error {
	if strings.TrimSpace(actor.Name) == "" {
		return invalid("Please enter your name")
	}
	return nil
}
