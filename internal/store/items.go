package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/erazemk/podari/internal/model"
)

// itemSelect selects item columns plus the ordered image references as a
// JSON array. Uploaded images are referenced by their API path.
const itemSelect = `
SELECT i.id, i.title, i.author, i.isbn, i.category, i.condition, i.reference_price,
       i.redemption_price, i.description, i.status, i.donor_id, i.reviewer_id,
       i.redeemer_id, i.reviewed_at, i.redeemed_at, i.created_at, i.updated_at,
       COALESCE((
           SELECT json_group_array(ref) FROM (
               SELECT CASE WHEN im.url <> '' THEN im.url
                           ELSE '/api/items/' || im.item_id || '/images/' || im.position END AS ref
               FROM item_images im WHERE im.item_id = i.id ORDER BY im.position
           )
       ), '[]') AS images_json
FROM items i`

type itemRow struct {
	model.Item
	ImagesJSON string `db:"images_json"`
}

func (r *itemRow) toItem() (model.Item, error) {
	item := r.Item
	item.Images = []string{}
	if err := json.Unmarshal([]byte(r.ImagesJSON), &item.Images); err != nil {
		return model.Item{}, fmt.Errorf("decoding item images: %w", err)
	}
	return item, nil
}

// CreateItem inserts a pending item and its image URLs. Run it inside a
// transaction so the item and its images land together.
func CreateItem(ctx context.Context, db DBTX, donorID int64, d model.ItemDraft) (*model.Item, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO items (title, author, isbn, category, condition, reference_price, description, donor_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Title, d.Author, d.ISBN, d.Category, d.Condition, d.ReferencePrice, d.Description, donorID,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("creating item: %w", ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	for pos, url := range d.Images {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO item_images (item_id, position, url) VALUES (?, ?, ?)`,
			id, pos, url,
		); err != nil {
			return nil, fmt.Errorf("adding item image: %w", err)
		}
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID, or nil if it does not exist.
func GetItem(ctx context.Context, db DBTX, id int64) (*model.Item, error) {
	var row itemRow
	err := db.GetContext(ctx, &row, itemSelect+` WHERE i.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	item, err := row.toItem()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems returns a lazy sequence of items matching f, newest first. Each
// iteration runs a fresh query, so the sequence can be ranged over again.
// Stopping early releases the underlying rows.
func ListItems(ctx context.Context, db DBTX, f model.ItemFilter) iter.Seq2[model.Item, error] {
	query, args := buildItemQuery(f)

	return func(yield func(model.Item, error) bool) {
		rows, err := db.QueryxContext(ctx, query, args...)
		if err != nil {
			yield(model.Item{}, fmt.Errorf("listing items: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row itemRow
			if err := rows.StructScan(&row); err != nil {
				yield(model.Item{}, fmt.Errorf("scanning item: %w", err))
				return
			}
			item, err := row.toItem()
			if !yield(item, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Item{}, fmt.Errorf("listing items: %w", err))
		}
	}
}

func buildItemQuery(f model.ItemFilter) (string, []any) {
	var where []string
	var args []any

	if f.Status != "" {
		where = append(where, "i.status = ?")
		args = append(args, f.Status)
	}
	if f.DonorID != 0 {
		where = append(where, "i.donor_id = ?")
		args = append(args, f.DonorID)
	}
	if f.Category != "" {
		where = append(where, "i.category = ?")
		args = append(args, f.Category)
	}
	if len(f.VisibleStatuses) > 0 || f.VisibleOwner != 0 {
		var or []string
		if len(f.VisibleStatuses) > 0 {
			or = append(or, "i.status IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(f.VisibleStatuses)), ", ")+")")
			for _, s := range f.VisibleStatuses {
				args = append(args, s)
			}
		}
		if f.VisibleOwner != 0 {
			or = append(or, "i.donor_id = ?")
			args = append(args, f.VisibleOwner)
		}
		where = append(where, "("+strings.Join(or, " OR ")+")")
	}

	query := itemSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY i.created_at DESC, i.id DESC"
	return query, args
}

// ApproveItem moves a pending item to approved, fixing its redemption price.
// Returns ErrStateChanged if the item is no longer pending.
func ApproveItem(ctx context.Context, db DBTX, id, reviewerID, redemptionPrice int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE items
		 SET status = 'approved', reviewer_id = ?, redemption_price = ?,
		     reviewed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'pending'`,
		reviewerID, redemptionPrice, id,
	)
	if err != nil {
		return fmt.Errorf("approving item: %w", err)
	}
	return transitionResult(ctx, db, res, id)
}

// RejectItem moves a pending item to rejected.
// Returns ErrStateChanged if the item is no longer pending.
func RejectItem(ctx context.Context, db DBTX, id, reviewerID int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE items
		 SET status = 'rejected', reviewer_id = ?,
		     reviewed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'pending'`,
		reviewerID, id,
	)
	if err != nil {
		return fmt.Errorf("rejecting item: %w", err)
	}
	return transitionResult(ctx, db, res, id)
}

// RedeemItem moves an approved item to redeemed.
// Returns ErrStateChanged if the item is no longer approved.
func RedeemItem(ctx context.Context, db DBTX, id, redeemerID int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE items
		 SET status = 'redeemed', redeemer_id = ?,
		     redeemed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'approved'`,
		redeemerID, id,
	)
	if err != nil {
		return fmt.Errorf("redeeming item: %w", err)
	}
	return transitionResult(ctx, db, res, id)
}

func transitionResult(ctx context.Context, db DBTX, res sql.Result, id int64) error {
	err := expectOne(res, ErrStateChanged)
	if !errors.Is(err, ErrStateChanged) {
		return err
	}
	item, gerr := GetItem(ctx, db, id)
	if gerr != nil {
		return gerr
	}
	if item == nil {
		return ErrNotFound
	}
	return ErrStateChanged
}
