package app

import (
	"fmt"
	"sort"
	"sync"

	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
)

type voiceRoom struct {
	channel domain.Channel
	members map[domain.UserID]struct{}
}

// ChannelRegistry is the static channel catalog together with every voice
// room's membership. A single lock covers all rooms so that a user can be
// checked and added atomically against every room at once.
type ChannelRegistry struct {
	mu       sync.RWMutex
	order    []domain.ChannelName
	rooms    map[domain.ChannelName]*voiceRoom
	memberOf map[domain.UserID]domain.ChannelName
}

func NewChannelRegistry(channels []domain.Channel) *ChannelRegistry {
	r := &ChannelRegistry{
		rooms:    make(map[domain.ChannelName]*voiceRoom, len(channels)),
		memberOf: make(map[domain.UserID]domain.ChannelName),
	}
	for _, ch := range channels {
		if _, dup := r.rooms[ch.Name]; dup {
			continue
		}
		r.order = append(r.order, ch.Name)
		r.rooms[ch.Name] = &voiceRoom{channel: ch, members: make(map[domain.UserID]struct{})}
	}
	return r
}

func (r *ChannelRegistry) Exists(name domain.ChannelName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[name]
	return ok
}

func (r *ChannelRegistry) Lookup(name domain.ChannelName) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	if !ok {
		return domain.Channel{}, false
	}
	return room.channel, true
}

// Join adds user to the voice room of name. It fails if the user is already
// a member of any room.
func (r *ChannelRegistry) Join(user domain.UserID, name domain.ChannelName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok {
		return fmt.Errorf("join %q: %w", name, domain.ErrInvalidChannel)
	}
	if cur, in := r.memberOf[user]; in {
		return fmt.Errorf("join %q while in %q: %w", name, cur, domain.ErrAlreadyInRoom)
	}
	room.members[user] = struct{}{}
	r.memberOf[user] = name
	log.Info().Str("module", "app.channels").Str("user", string(user)).Str("channel", string(name)).Msg("member added")
	return nil
}

// Leave removes user from whatever room it is in.
func (r *ChannelRegistry) Leave(user domain.UserID) (domain.ChannelName, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.memberOf[user]
	if !ok {
		return "", false
	}
	delete(r.memberOf, user)
	delete(r.rooms[name].members, user)
	log.Info().Str("module", "app.channels").Str("user", string(user)).Str("channel", string(name)).Msg("member removed")
	return name, true
}

func (r *ChannelRegistry) ChannelOf(user domain.UserID) (domain.ChannelName, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.memberOf[user]
	return name, ok
}

// SameRoom reports whether a and b are both members of one voice room.
func (r *ChannelRegistry) SameRoom(a, b domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ra, ok := r.memberOf[a]
	if !ok {
		return false
	}
	rb, ok := r.memberOf[b]
	return ok && ra == rb
}

func (r *ChannelRegistry) Members(name domain.ChannelName) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	if !ok {
		return nil
	}
	return sortedMembers(room)
}

// List returns every channel in catalog order.
func (r *ChannelRegistry) List() []domain.ChannelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelInfo, 0, len(r.order))
	for _, name := range r.order {
		room := r.rooms[name]
		out = append(out, domain.ChannelInfo{
			Name:        name,
			Description: room.channel.Description,
			VoiceRoom:   sortedMembers(room),
		})
	}
	return out
}

func sortedMembers(room *voiceRoom) []domain.UserID {
	out := make([]domain.UserID, 0, len(room.members))
	for u := range room.members {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
