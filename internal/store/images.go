package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ItemImage is a stored image reference. Either URL or Data is set.
type ItemImage struct {
	ItemID   int64  `db:"item_id"`
	Position int    `db:"position"`
	URL      string `db:"url"`
	Data     []byte `db:"data"`
	MIME     string `db:"mime"`
}

// CountItemImages returns the number of images attached to an item.
func CountItemImages(ctx context.Context, db DBTX, itemID int64) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM item_images WHERE item_id = ?`, itemID,
	); err != nil {
		return 0, fmt.Errorf("counting item images: %w", err)
	}
	return n, nil
}

// AddItemImage appends uploaded image data to a pending item's image list
// and returns its position. Returns ErrStateChanged if the item is no longer
// pending.
func AddItemImage(ctx context.Context, db DBTX, itemID int64, data []byte, mime string) (int, error) {
	var pos int
	err := db.GetContext(ctx, &pos,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM item_images WHERE item_id = ?`, itemID,
	)
	if err != nil {
		return 0, fmt.Errorf("finding next image position: %w", err)
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO item_images (item_id, position, data, mime)
		 SELECT ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM items WHERE id = ? AND status = 'pending')`,
		itemID, pos, data, mime, itemID,
	)
	if err != nil {
		return 0, fmt.Errorf("adding item image: %w", err)
	}
	if err := expectOne(res, ErrStateChanged); err != nil {
		return 0, err
	}
	return pos, nil
}

// GetItemImage returns the image at position, or nil if there is none.
func GetItemImage(ctx context.Context, db DBTX, itemID int64, position int) (*ItemImage, error) {
	img := &ItemImage{}
	err := db.GetContext(ctx, img,
		`SELECT item_id, position, url, data, mime FROM item_images WHERE item_id = ? AND position = ?`,
		itemID, position,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item image: %w", err)
	}
	return img, nil
}
