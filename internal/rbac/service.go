// Package rbac implements the dynamic role-permission configuration
// protocol: transactional set/add/remove mutations on a role's
// permission set, cache-based invalidation fan-out to affected users,
// and the polling contract clients use to learn that their permissions
// changed.
package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stockanalysis/internal/audit"
	"stockanalysis/internal/cache"
	"stockanalysis/internal/model"
)

// Validation errors, rejected before any mutation begins.
var (
	// ErrEmptyBatch is returned when a batch update carries no items.
	ErrEmptyBatch = errors.New("permission update batch is empty")

	// ErrInvalidCodename is returned when a codename list contains a
	// blank entry.
	ErrInvalidCodename = errors.New("invalid permission codename")
)

// MutationRequest describes one role-permission mutation.
type MutationRequest struct {
	RoleID    int64
	Action    model.Action
	Codenames []string
	Actor     model.UserRef
}

// Service coordinates permission mutations and change notification.
type Service struct {
	roles model.RoleStore
	cache cache.Store
	audit audit.Sink
	log   *slog.Logger
}

// New creates the rbac service.
func New(roles model.RoleStore, store cache.Store, sink audit.Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		roles: roles,
		cache: store,
		audit: sink,
		log:   logger,
	}
}

// Mutate applies one set/add/remove mutation to a role's permission
// set. The store applies the change inside a single transaction; once
// committed, every user holding the role gets a change flag and a
// notification, and the mutation is audited. Returns ErrRoleNotFound
// (wrapped) for unknown roles.
func (s *Service) Mutate(ctx context.Context, req MutationRequest) (model.MutationResult, error) {
	if err := validateCodenames(req.Codenames); err != nil {
		return model.MutationResult{RoleID: req.RoleID, Error: err.Error()}, err
	}

	role, err := s.roles.ApplyPermissionChange(ctx, req.RoleID, req.Action, req.Codenames)
	if err != nil {
		return model.MutationResult{RoleID: req.RoleID, Error: err.Error()},
			fmt.Errorf("apply %s on role %d: %w", req.Action, req.RoleID, err)
	}

	affected := s.notifyAffectedUsers(ctx, role, req.Action)

	s.recordAudit(ctx, req, role)

	s.log.Info("role permissions mutated",
		slog.Int64("role_id", role.ID),
		slog.String("role", role.Name),
		slog.String("action", req.Action.String()),
		slog.Int("codenames", len(req.Codenames)),
		slog.Int("affected_users", affected),
	)

	return model.MutationResult{
		RoleID:        role.ID,
		Success:       true,
		Message:       fmt.Sprintf("permissions %s applied", req.Action),
		AffectedUsers: affected,
	}, nil
}

// MutateBatch applies several mutations, each inside its own
// independent transaction. A failure on one item (role not found,
// persistence error) is recorded in that item's result and never
// aborts or rolls back sibling items.
func (s *Service) MutateBatch(ctx context.Context, reqs []MutationRequest) ([]model.MutationResult, error) {
	if len(reqs) == 0 {
		return nil, ErrEmptyBatch
	}

	results := make([]model.MutationResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := s.Mutate(ctx, req)
		if err != nil {
			res.Success = false
			if res.Error == "" {
				res.Error = err.Error()
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// CheckChanges implements the polling contract for one user.
//
// Two independent detection paths are evaluated: the explicit change
// flag written by the mutation fan-out, and a comparison of the current
// permission hash against the cached last-seen hash. Either alone can
// miss edge cases (flag expired before the poll; no cached hash on a
// first poll), so both are kept. The flag and notification are single
// delivery: they are consumed here, and a second poll without an
// intervening mutation reports no changes.
func (s *Service) CheckChanges(ctx context.Context, userID int64) (model.PollResult, error) {
	roles, err := s.roles.UserRoles(ctx, userID)
	if err != nil {
		return model.PollResult{}, fmt.Errorf("load roles for user %d: %w", userID, err)
	}

	roleNames := make([]string, 0, len(roles))
	var codenames []string
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
		codenames = append(codenames, r.Codenames()...)
	}
	currentHash := PermissionHash(codenames)

	hashKey := cache.Key{Kind: cache.KindHash, UserID: userID}
	flagKey := cache.Key{Kind: cache.KindChangeFlag, UserID: userID}
	notifyKey := cache.Key{Kind: cache.KindNotification, UserID: userID}

	lastHash := s.getString(ctx, hashKey)
	flag, hadFlag := s.getChangeRecord(ctx, flagKey)
	notification, hadNotification := s.getNotification(ctx, notifyKey)

	result := model.PollResult{
		PermissionsHash: currentHash,
		LastHash:        lastHash,
		HadChangeFlag:   hadFlag,
		UserRoles:       roleNames,
		PermissionCount: uniqueCount(codenames),
	}

	switch {
	case hadFlag:
		result.HasChanges = true
		result.ChangeDetail = &model.ChangeDetail{
			Type:     "flag",
			RoleID:   flag.RoleID,
			RoleName: flag.RoleName,
			Action:   flag.Action,
		}
		s.deleteQuiet(ctx, flagKey)
	case lastHash != "" && lastHash != currentHash:
		result.HasChanges = true
		result.ChangeDetail = &model.ChangeDetail{
			Type:    "hash_change",
			OldHash: lastHash,
			NewHash: currentHash,
		}
	}

	if hadNotification {
		result.Notification = &notification
		s.deleteQuiet(ctx, notifyKey)
	}

	// Refresh the hash cache with a renewed TTL regardless of outcome,
	// so the next poll compares against this snapshot.
	if err := s.cache.Set(ctx, hashKey, []byte(currentHash), TTLPermissionHash); err != nil {
		s.log.Warn("refresh permission hash cache", slog.Int64("user_id", userID), slog.String("err", err.Error()))
	}

	return result, nil
}

// AssignRole associates a user with a role and flags the user so their
// next poll picks up the new permissions.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64, assignedBy model.UserRef) (bool, error) {
	created, err := s.roles.AssignRole(ctx, userID, roleID, assignedBy.ID)
	if err != nil {
		return false, fmt.Errorf("assign role %d to user %d: %w", roleID, userID, err)
	}
	if created {
		role, rerr := s.roles.Role(ctx, roleID)
		if rerr == nil {
			s.flagUser(ctx, model.UserRef{ID: userID}, role, "assigned")
		}
	}
	return created, nil
}

// RemoveRole removes a (user, role) association and flags the user.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	role, rerr := s.roles.Role(ctx, roleID)
	if err := s.roles.RemoveRole(ctx, userID, roleID); err != nil {
		return fmt.Errorf("remove role %d from user %d: %w", roleID, userID, err)
	}
	if rerr == nil {
		s.flagUser(ctx, model.UserRef{ID: userID}, role, "removed")
	}
	return nil
}

// RoleDetail returns a role with its permissions grouped by category.
func (s *Service) RoleDetail(ctx context.Context, roleID int64) (model.Role, map[string][]model.Permission, error) {
	role, err := s.roles.Role(ctx, roleID)
	if err != nil {
		return model.Role{}, nil, fmt.Errorf("load role %d: %w", roleID, err)
	}
	grouped := make(map[string][]model.Permission)
	for _, p := range role.Permissions {
		grouped[p.Category] = append(grouped[p.Category], p)
	}
	return role, grouped, nil
}

// PermissionsByCategory returns the full permission catalogue grouped
// by category.
func (s *Service) PermissionsByCategory(ctx context.Context) (map[string][]model.Permission, error) {
	perms, err := s.roles.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	grouped := make(map[string][]model.Permission)
	for _, p := range perms {
		grouped[p.Category] = append(grouped[p.Category], p)
	}
	return grouped, nil
}

// ── internal ──

// notifyAffectedUsers performs the cache fan-out for every user holding
// the mutated role: invalidate the permission snapshot, write the
// change flag and the notification message. Cache write failures are
// logged and skipped — expiry and the hash path bound the damage.
func (s *Service) notifyAffectedUsers(ctx context.Context, role model.Role, action model.Action) int {
	users, err := s.roles.UsersWithRole(ctx, role.ID)
	if err != nil {
		s.log.Warn("list users for role", slog.Int64("role_id", role.ID), slog.String("err", err.Error()))
		return 0
	}
	for _, u := range users {
		s.flagUser(ctx, u, role, action.String())
	}
	return len(users)
}

func (s *Service) flagUser(ctx context.Context, u model.UserRef, role model.Role, action string) {
	s.deleteQuiet(ctx, cache.Key{Kind: cache.KindPermissionSet, UserID: u.ID})

	record := model.ChangeRecord{RoleID: role.ID, RoleName: role.Name, Action: action}
	if data, err := json.Marshal(record); err == nil {
		if err := s.cache.Set(ctx, cache.Key{Kind: cache.KindChangeFlag, UserID: u.ID}, data, TTLChangeFlag); err != nil {
			s.log.Warn("set change flag", slog.Int64("user_id", u.ID), slog.String("err", err.Error()))
		}
	}

	note := model.Notification{
		Message: fmt.Sprintf("Your permissions for role %q have been updated", role.Name),
	}
	if data, err := json.Marshal(note); err == nil {
		if err := s.cache.Set(ctx, cache.Key{Kind: cache.KindNotification, UserID: u.ID}, data, TTLNotification); err != nil {
			s.log.Warn("set notification", slog.Int64("user_id", u.ID), slog.String("err", err.Error()))
		}
	}
}

// recordAudit is fire-and-forget: a failed audit write is logged, never
// surfaced to the mutation caller.
func (s *Service) recordAudit(ctx context.Context, req MutationRequest, role model.Role) {
	evt := audit.Event{
		ActorID:   req.Actor.ID,
		ActorName: req.Actor.Username,
		RoleID:    role.ID,
		RoleName:  role.Name,
		Action:    req.Action.String(),
		Codenames: req.Codenames,
		At:        time.Now(),
	}
	if err := s.audit.Record(ctx, evt); err != nil {
		s.log.Warn("audit record", slog.Int64("role_id", role.ID), slog.String("err", err.Error()))
	}
}

func (s *Service) getString(ctx context.Context, key cache.Key) string {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache get", slog.String("key", key.String()), slog.String("err", err.Error()))
		return ""
	}
	if !ok {
		return ""
	}
	return string(data)
}

func (s *Service) getChangeRecord(ctx context.Context, key cache.Key) (model.ChangeRecord, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache get", slog.String("key", key.String()), slog.String("err", err.Error()))
		return model.ChangeRecord{}, false
	}
	if !ok {
		return model.ChangeRecord{}, false
	}
	var rec model.ChangeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.ChangeRecord{}, false
	}
	return rec, true
}

func (s *Service) getNotification(ctx context.Context, key cache.Key) (model.Notification, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache get", slog.String("key", key.String()), slog.String("err", err.Error()))
		return model.Notification{}, false
	}
	if !ok {
		return model.Notification{}, false
	}
	var note model.Notification
	if err := json.Unmarshal(data, &note); err != nil {
		return model.Notification{}, false
	}
	return note, true
}

func (s *Service) deleteQuiet(ctx context.Context, key cache.Key) {
	if err := s.cache.Delete(ctx, key); err != nil {
		s.log.Warn("cache delete", slog.String("key", key.String()), slog.String("err", err.Error()))
	}
}

func validateCodenames(codenames []string) error {
	for _, c := range codenames {
		if strings.TrimSpace(c) == "" {
			return ErrInvalidCodename
		}
	}
	return nil
}

func uniqueCount(codenames []string) int {
	seen := make(map[string]struct{}, len(codenames))
	for _, c := range codenames {
		seen[c] = struct{}{}
	}
	return len(seen)
}
