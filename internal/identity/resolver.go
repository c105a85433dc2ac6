package identity

import (
	"context"
	"errors"
	"strings"

	"streamhub/internal/storage"
	logx "streamhub/pkg/logx"
)

var (
	ErrEmpty    = errors.New("identity: empty")
	ErrNotFound = errors.New("identity: user not found")
)

// UserLookup finds a user by name.
type UserLookup interface {
	LookupUser(ctx context.Context, name string) (*User, error)
}

// ColorLookup returns a known color for a user id.
type ColorLookup interface {
	LookupColor(ctx context.Context, userID string) (string, bool)
}

// FollowLookup reports whether a user id follows the channel.
type FollowLookup interface {
	IsFollower(ctx context.Context, userID string) bool
}

// Resolver turns Raw identities into Users.
type Resolver struct {
	users        UserLookup
	colors       ColorLookup
	follows      FollowLookup
	defaultColor string
	log          logx.Logger
}

type Option func(*Resolver)

func WithUserLookup(l UserLookup) Option     { return func(r *Resolver) { r.users = l } }
func WithColorLookup(l ColorLookup) Option   { return func(r *Resolver) { r.colors = l } }
func WithFollowLookup(l FollowLookup) Option { return func(r *Resolver) { r.follows = l } }
func WithDefaultColor(c string) Option {
	return func(r *Resolver) {
		if strings.TrimSpace(c) != "" {
			r.defaultColor = c
		}
	}
}
func WithLogger(l logx.Logger) Option { return func(r *Resolver) { r.log = l } }

// NewResolver builds a resolver. With a non-nil store, the store backs every
// lookup that was not set explicitly.
func NewResolver(st storage.Store, opts ...Option) *Resolver {
	r := &Resolver{defaultColor: DefaultColor, log: logx.Nop()}
	for _, o := range opts {
		o(r)
	}
	if st != nil {
		sl := StoreLookup{Store: st}
		if r.users == nil {
			r.users = sl
		}
		if r.colors == nil {
			r.colors = sl
		}
		if r.follows == nil {
			r.follows = sl
		}
	}
	r.log = r.log.Component("identity")
	return r
}

// Resolve normalizes raw. It only fails when raw carries no usable name.
func (r *Resolver) Resolve(ctx context.Context, raw Raw) (*User, error) {
	var u *User
	switch v := raw.(type) {
	case nil:
		return nil, ErrEmpty
	case Canonical:
		c := v.User
		u = &c
	case *Canonical:
		if v == nil {
			return nil, ErrEmpty
		}
		c := v.User
		u = &c
	case Name:
		u = r.fromName(ctx, string(v))
	case Profile:
		u = &User{
			ID:          v.ID,
			Name:        normalizeName(v.Login),
			DisplayName: v.DisplayName,
			AvatarURL:   v.AvatarURL,
		}
	case ChatIdentity:
		u = &User{
			ID:          v.ID,
			Name:        normalizeName(v.Name),
			DisplayName: v.DisplayName,
			Color:       v.Color,
			IsMod:       v.hasBadge("moderator", "broadcaster"),
			IsSub:       v.hasBadge("subscriber", "founder"),
			IsVIP:       v.hasBadge("vip"),
		}
	default:
		return nil, ErrEmpty
	}
	if u == nil || strings.TrimSpace(u.Name) == "" {
		return nil, ErrEmpty
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Name
	}
	r.enrich(ctx, u)
	return u, nil
}

func (r *Resolver) fromName(ctx context.Context, s string) *User {
	name := strings.TrimPrefix(strings.TrimSpace(s), "@")
	if name == "" {
		return nil
	}
	if r.users != nil {
		found, err := r.users.LookupUser(ctx, name)
		if err == nil && found != nil {
			return found
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			r.log.Debug("user lookup failed", logx.String("name", name), logx.Err(err))
		}
	}
	return &User{Name: name, DisplayName: name}
}

func (r *Resolver) enrich(ctx context.Context, u *User) {
	if u.ID != "" && r.follows != nil && !u.IsFollower {
		u.IsFollower = r.follows.IsFollower(ctx, u.ID)
	}
	if u.Color == "" && u.ID != "" && r.colors != nil {
		if c, ok := r.colors.LookupColor(ctx, u.ID); ok {
			u.Color = c
		}
	}
	if u.Color == "" {
		u.Color = r.defaultColor
		u.fallbackColor = true
	}
}

// StoreLookup implements the lookups on top of the store's user table, which
// is populated from chat traffic.
type StoreLookup struct {
	Store storage.Store
}

func (s StoreLookup) LookupUser(ctx context.Context, name string) (*User, error) {
	rec, ok, err := s.Store.FindUserByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return fromRecord(rec), nil
}

func (s StoreLookup) LookupColor(ctx context.Context, userID string) (string, bool) {
	rec, ok, err := s.Store.GetUser(ctx, userID)
	if err != nil || !ok || rec.Color == "" {
		return "", false
	}
	return rec.Color, true
}

func (s StoreLookup) IsFollower(ctx context.Context, userID string) bool {
	rec, ok, err := s.Store.GetUser(ctx, userID)
	return err == nil && ok && rec.Counters.FollowDate != 0
}

func fromRecord(rec storage.UserRecord) *User {
	u := &User{
		ID:          rec.ID,
		Name:        rec.Name,
		DisplayName: rec.DisplayName,
		Color:       rec.Color,
		IsFollower:  rec.Counters.FollowDate != 0,
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Name
	}
	return u
}

// Record converts u for the store. Counters are left zero and a fallback
// color is left empty.
func (u *User) Record() storage.UserRecord {
	rec := storage.UserRecord{
		ID:          u.ID,
		Name:        u.Name,
		DisplayName: u.DisplayName,
		Color:       u.Color,
	}
	if u.fallbackColor {
		rec.Color = ""
	}
	return rec
}
