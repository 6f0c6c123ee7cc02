package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kudos/api/internal/store"
	"kudos/api/internal/util"
)

// Groups is the group repository: group documents, the groups/{id}/members
// side of the membership mirror, and the open/completed task collections.
//
// Multi-step operations here compose single-path writes. The store offers no
// cross-path atomicity, so a failure partway leaves the writes that already
// committed in place; callers must treat a failed composite operation as
// possibly partially applied.
type Groups struct {
	store store.Store
	users *Users
}

func groupPath(groupID string) string {
	return store.Join("groups", util.Sanitize(groupID))
}

func membersPath(groupID string) string {
	return store.Join("groups", util.Sanitize(groupID), "members")
}

func tasksPath(groupID string) string {
	return store.Join("groups", util.Sanitize(groupID), "tasks")
}

func completedPath(groupID string) string {
	return store.Join("groups", util.Sanitize(groupID), "completed")
}

// Get returns the group or NotFound.
func (g *Groups) Get(ctx context.Context, groupID string) (Group, error) {
	groupID = util.Sanitize(groupID)
	var group Group
	err := g.store.Get(ctx, groupPath(groupID), &group)
	if err == store.ErrNotFound {
		return Group{}, errNotFound("could not find group '%s'", groupID)
	}
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

// Exists reports whether the group document is present.
func (g *Groups) Exists(ctx context.Context, groupID string) (bool, error) {
	err := g.store.Get(ctx, groupPath(groupID), nil)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Members resolves every member entry to a full user record. Lookups run in
// parallel and the call is all-or-nothing: one failed lookup fails it.
func (g *Groups) Members(ctx context.Context, groupID string) ([]User, error) {
	groupID = util.Sanitize(groupID)
	if _, err := g.Get(ctx, groupID); err != nil {
		return nil, err
	}

	entries, err := g.store.Children(ctx, membersPath(groupID))
	if err != nil {
		return nil, err
	}

	members := make([]User, len(entries))
	eg, ctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		var ref membershipEntry
		if err := entry.Decode(&ref); err != nil {
			return nil, fmt.Errorf("decode member entry %s: %w", entry.Key, err)
		}
		eg.Go(func() error {
			user, err := g.users.Get(ctx, ref.ID)
			if err != nil {
				return err
			}
			members[i] = user
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return members, nil
}

// memberIDs returns the raw member ids without resolving user records.
func (g *Groups) memberIDs(ctx context.Context, groupID string) ([]string, error) {
	entries, err := g.store.Children(ctx, membersPath(groupID))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		var ref membershipEntry
		if err := entry.Decode(&ref); err != nil {
			return nil, fmt.Errorf("decode member entry %s: %w", entry.Key, err)
		}
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// Create writes the group document, then in parallel appends the creator to
// the member list and the group to the creator's groups mapping. Both sides
// must succeed; if one fails the other is not rolled back and the group is
// left partially linked.
func (g *Groups) Create(ctx context.Context, creatorID, name string) (string, error) {
	creatorID = util.Sanitize(creatorID)
	name = util.Sanitize(name)

	groupID := g.store.Push("groups")
	group := Group{ID: groupID, Creator: creatorID, Name: name}
	if err := g.store.Set(ctx, groupPath(groupID), group); err != nil {
		return "", err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		path := membersPath(groupID)
		key := g.store.Push(path)
		return g.store.Set(ctx, store.Join(path, key), membershipEntry{ID: creatorID})
	})
	eg.Go(func() error {
		return g.users.AddGroup(ctx, creatorID, groupID)
	})
	if err := eg.Wait(); err != nil {
		return "", err
	}
	return groupID, nil
}

// AddUser is a two-phase check-then-act: confirm the user exists and is not
// already a member, then write both sides of the mirror in parallel. Two
// concurrent calls for the same pair can both pass phase one and produce a
// duplicate entry; the store offers nothing to fence that.
func (g *Groups) AddUser(ctx context.Context, userID, groupID string) error {
	userID = util.Sanitize(userID)
	groupID = util.Sanitize(groupID)

	eg, checkCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		exists, err := g.users.Exists(checkCtx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return errNotFound("user with ID %s could not be found", userID)
		}
		return nil
	})
	eg.Go(func() error {
		members, err := g.Members(checkCtx, groupID)
		if err != nil {
			return err
		}
		for _, member := range members {
			if member.ID == userID {
				return errConflict("user %s is already a member of group %s", userID, groupID)
			}
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	eg, ctx = errgroup.WithContext(ctx)
	eg.Go(func() error {
		return g.users.AddGroup(ctx, userID, groupID)
	})
	eg.Go(func() error {
		path := membersPath(groupID)
		key := g.store.Push(path)
		return g.store.Set(ctx, store.Join(path, key), membershipEntry{ID: userID})
	})
	return eg.Wait()
}

// Remove snapshots the member list, deletes the group node, then prunes the
// group from every former member's groups mapping in parallel. A fan-out
// failure fails the call, but the group node is not restored.
func (g *Groups) Remove(ctx context.Context, groupID string) error {
	groupID = util.Sanitize(groupID)

	memberIDs, err := g.memberIDs(ctx, groupID)
	if err != nil {
		return err
	}
	if err := g.store.Remove(ctx, groupPath(groupID)); err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, memberID := range memberIDs {
		eg.Go(func() error {
			return g.users.RemoveGroup(ctx, memberID, groupID)
		})
	}
	return eg.Wait()
}

// CreateTask adds an open task to the group. The creator, and the assignee
// when one is set, must be members.
func (g *Groups) CreateTask(ctx context.Context, groupID, creatorID, assignedTo, title string) (Task, error) {
	groupID = util.Sanitize(groupID)
	creatorID = util.Sanitize(creatorID)
	assignedTo = util.Sanitize(assignedTo)

	if title == "" {
		return Task{}, errInvalidInput("no title specified")
	}

	if _, err := g.Get(ctx, groupID); err != nil {
		return Task{}, err
	}
	memberIDs, err := g.memberIDs(ctx, groupID)
	if err != nil {
		return Task{}, err
	}
	creatorOK := false
	assigneeOK := assignedTo == ""
	for _, id := range memberIDs {
		if id == creatorID {
			creatorOK = true
		}
		if id == assignedTo {
			assigneeOK = true
		}
	}
	if !creatorOK || !assigneeOK {
		return Task{}, errForbidden("user %s is not a member of group %s", creatorID, groupID)
	}

	path := tasksPath(groupID)
	taskID := g.store.Push(path)
	task := Task{ID: taskID, Title: title, Creator: creatorID, AssignedTo: assignedTo}
	if err := g.store.Set(ctx, store.Join(path, taskID), task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// CompleteTask moves a task to the completed collection: verify the
// completer's membership, copy the task under a freshly generated id, then
// delete the original. The copy and the delete are sequential single-path
// writes; a crash between them leaves the task in both collections.
func (g *Groups) CompleteTask(ctx context.Context, groupID, taskID, completerID string) (Task, error) {
	groupID = util.Sanitize(groupID)
	taskID = util.Sanitize(taskID)
	completerID = util.Sanitize(completerID)

	if _, err := g.Get(ctx, groupID); err != nil {
		return Task{}, err
	}
	memberIDs, err := g.memberIDs(ctx, groupID)
	if err != nil {
		return Task{}, err
	}

	isMember := false
	for _, id := range memberIDs {
		if id == completerID {
			isMember = true
			break
		}
	}
	if !isMember {
		return Task{}, errForbidden("user %s is not a member of group %s", completerID, groupID)
	}

	var task Task
	taskNode := store.Join(tasksPath(groupID), taskID)
	err = g.store.Get(ctx, taskNode, &task)
	if err == store.ErrNotFound {
		return Task{}, errNotFound("could not find task %s", taskID)
	}
	if err != nil {
		return Task{}, err
	}

	completed := task
	completed.ID = g.store.Push(completedPath(groupID))
	if err := g.store.Set(ctx, store.Join(completedPath(groupID), completed.ID), completed); err != nil {
		return Task{}, err
	}
	if err := g.store.Remove(ctx, taskNode); err != nil {
		return Task{}, err
	}
	return completed, nil
}

// DeleteTask removes an open task outright, with no archival.
func (g *Groups) DeleteTask(ctx context.Context, groupID, taskID string) error {
	groupID = util.Sanitize(groupID)
	taskID = util.Sanitize(taskID)

	taskNode := store.Join(tasksPath(groupID), taskID)
	err := g.store.Get(ctx, taskNode, nil)
	if err == store.ErrNotFound {
		return errNotFound("could not find task %s", taskID)
	}
	if err != nil {
		return err
	}
	return g.store.Remove(ctx, taskNode)
}

// Tasks returns up to limit open tasks, newest insertion first.
func (g *Groups) Tasks(ctx context.Context, groupID string, limit int) ([]Task, error) {
	return g.listTasks(ctx, groupID, tasksPath(groupID), limit)
}

// CompletedTasks returns up to limit completed tasks, newest completion
// first.
func (g *Groups) CompletedTasks(ctx context.Context, groupID string, limit int) ([]Task, error) {
	return g.listTasks(ctx, groupID, completedPath(groupID), limit)
}

const defaultTaskLimit = 10

func (g *Groups) listTasks(ctx context.Context, groupID, path string, limit int) ([]Task, error) {
	groupID = util.Sanitize(groupID)
	if limit <= 0 {
		limit = defaultTaskLimit
	}

	exists, err := g.Exists(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errNotFound("could not find group '%s'", groupID)
	}

	entries, err := g.store.QueryChildren(ctx, path, store.Query{Limit: limit, FromEnd: true})
	if err != nil {
		return nil, err
	}

	// the query yields the last entries in key order; present newest first
	tasks := make([]Task, len(entries))
	for i, entry := range entries {
		var task Task
		if err := entry.Decode(&task); err != nil {
			return nil, fmt.Errorf("decode task entry %s: %w", entry.Key, err)
		}
		tasks[len(entries)-1-i] = task
	}
	return tasks, nil
}
