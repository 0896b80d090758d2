package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/untoldecay/space/internal/types"
)

const replyColumns = `id, parent_type, parent_id, author_id, spawn_id, project_id, content,
	mentions, deleted_at, created_at`

// CreateReplyArgs carries the fields for a new reply. ParentRef accepts
// any form the resolver takes for the parent's table.
type CreateReplyArgs struct {
	ParentType types.ArtifactType
	ParentRef  string
	AuthorID   types.AgentID
	SpawnID    *types.SpawnID
	Content    string
}

// CreateReply threads a comment under an insight, decision, or task. The
// parent must exist and not be deleted; the reply inherits its project.
// Mentions are expanded against the known handles, with @human fanning
// out to every human agent.
func (s *Store) CreateReply(ctx context.Context, args CreateReplyArgs) (*types.Reply, error) {
	args.Content = strings.TrimSpace(args.Content)
	if args.Content == "" {
		return nil, types.Validationf("reply content cannot be empty")
	}
	if _, err := types.ParseParentType(string(args.ParentType)); err != nil {
		return nil, err
	}

	parentID, err := s.Resolve(ctx, args.ParentType.Table(), args.ParentRef)
	if err != nil {
		return nil, err
	}

	var reply *types.Reply
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var projectID sql.NullString
		var deletedAt sql.NullTime
		q := fmt.Sprintf(`SELECT project_id, deleted_at FROM %s WHERE id = ?`, args.ParentType.Table())
		if err := tx.QueryRowContext(ctx, q, parentID).Scan(&projectID, &deletedAt); err != nil {
			return fmt.Errorf("failed to load reply parent: %w", err)
		}
		if deletedAt.Valid {
			return types.Statef("%s %s/%s is deleted", args.ParentType, args.ParentType.RefPrefix(), types.ShortID(parentID))
		}

		mentions, err := expandMentions(ctx, tx, args.Content)
		if err != nil {
			return err
		}

		id, err := newRowID(ctx, tx, "replies")
		if err != nil {
			return err
		}
		createdAt := now()
		var spawnID any
		if args.SpawnID != nil {
			spawnID = string(*args.SpawnID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO replies (id, parent_type, parent_id, author_id, spawn_id, project_id, content, mentions, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, string(args.ParentType), parentID, string(args.AuthorID), spawnID,
			projectID, args.Content, stringListJSON(mentions), createdAt); err != nil {
			return fmt.Errorf("failed to insert reply: %w", err)
		}
		if err := storeCitations(ctx, tx, types.ArtifactReply, id, args.Content); err != nil {
			return err
		}

		reply = &types.Reply{
			ID:         types.ReplyID(id),
			ParentType: args.ParentType,
			ParentID:   parentID,
			AuthorID:   args.AuthorID,
			SpawnID:    args.SpawnID,
			Content:    args.Content,
			Mentions:   mentions,
			CreatedAt:  createdAt,
		}
		if projectID.Valid {
			v := types.ProjectID(projectID.String)
			reply.ProjectID = &v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// GetReply fetches a reply by id or id prefix.
func (s *Store) GetReply(ctx context.Context, ref string) (*types.Reply, error) {
	id, err := s.ResolveReply(ctx, ref)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+replyColumns+` FROM replies WHERE id = ?`, string(id))
	r, err := scanReply(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("reply %s not found", id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reply: %w", err)
	}
	return r, nil
}

// FetchReplies lists replies matching the filter. Threads read oldest
// first.
func (s *Store) FetchReplies(ctx context.Context, filter types.ReplyFilter) ([]*types.Reply, error) {
	q := newQuery("replies", replyColumns).
		WhereIf("parent_type = ?", (*string)(filter.ParentType)).
		WhereIf("parent_id = ?", filter.ParentID).
		WhereIf("author_id = ?", (*string)(filter.AuthorID)).
		OrderBy("created_at").
		Limit(filter.Limit)
	if !filter.IncludeDeleted {
		q.NotDeleted()
	}

	query, args := q.SQL()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query replies: %w", err)
	}
	defer rows.Close()

	var out []*types.Reply
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reply: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate replies: %w", err)
	}
	return out, nil
}

// RepliesFor lists the live thread under one parent artifact.
func (s *Store) RepliesFor(ctx context.Context, parentType types.ArtifactType, parentID string) ([]*types.Reply, error) {
	pt := parentType
	return s.FetchReplies(ctx, types.ReplyFilter{ParentType: &pt, ParentID: &parentID})
}

// DeleteReply soft-deletes a reply.
func (s *Store) DeleteReply(ctx context.Context, ref string) error {
	id, err := s.ResolveReply(ctx, ref)
	if err != nil {
		return err
	}
	return s.softDelete(ctx, "replies", string(id), "reply r/"+id.Short())
}

func scanReply(row rowScanner) (*types.Reply, error) {
	var (
		r         types.Reply
		id        string
		spawnID   sql.NullString
		projectID sql.NullString
		mentions  string
		deletedAt sql.NullTime
	)
	err := row.Scan(&id, &r.ParentType, &r.ParentID, &r.AuthorID, &spawnID, &projectID,
		&r.Content, &mentions, &deletedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.ID = types.ReplyID(id)
	if spawnID.Valid {
		v := types.SpawnID(spawnID.String)
		r.SpawnID = &v
	}
	if projectID.Valid {
		v := types.ProjectID(projectID.String)
		r.ProjectID = &v
	}
	r.Mentions = parseStringList(mentions)
	r.DeletedAt = timePtr(deletedAt)
	return &r, nil
}
