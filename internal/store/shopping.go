package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/model"
)

type ShoppingStore struct {
	db *sql.DB
}

func NewShoppingStore(db *sql.DB) *ShoppingStore {
	return &ShoppingStore{db: db}
}

func scanShoppingItem(scanner interface{ Scan(...any) error }) (*model.ShoppingItem, error) {
	var i model.ShoppingItem
	err := scanner.Scan(&i.ID, &i.HouseholdID, &i.Name, &i.Completed, &i.CreatedBy, &i.DueDate, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

const shoppingCols = `id, household_id, name, completed, created_by, due_date, created_at, updated_at`

func (s *ShoppingStore) List(ctx context.Context, householdID int64) ([]model.ShoppingItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shoppingCols+` FROM shopping_items WHERE household_id = ? ORDER BY created_at DESC, id DESC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list shopping items: %w", err)
	}
	defer rows.Close()

	items := []model.ShoppingItem{}
	for rows.Next() {
		i, err := scanShoppingItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shopping item: %w", err)
		}
		items = append(items, *i)
	}
	return items, rows.Err()
}

func (s *ShoppingStore) GetByID(ctx context.Context, householdID, id int64) (*model.ShoppingItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+shoppingCols+` FROM shopping_items WHERE id = ? AND household_id = ?`, id, householdID,
	)
	i, err := scanShoppingItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shopping item: %w", err)
	}
	return i, nil
}

func (s *ShoppingStore) Create(ctx context.Context, householdID, createdBy int64, name string, dueDate *string) (*model.ShoppingItem, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO shopping_items (household_id, name, created_by, due_date) VALUES (?, ?, ?, ?)`,
		householdID, name, createdBy, dueDate,
	)
	if err != nil {
		return nil, fmt.Errorf("insert shopping item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, householdID, id)
}

func (s *ShoppingStore) Update(ctx context.Context, householdID, id int64, name string, completed bool, dueDate *string) (*model.ShoppingItem, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE shopping_items SET name = ?, completed = ?, due_date = ?, updated_at = ?
		 WHERE id = ? AND household_id = ?`,
		name, completed, dueDate, time.Now().UTC(), id, householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("update shopping item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, apperr.NotFound("shopping item not found")
	}
	return s.GetByID(ctx, householdID, id)
}

func (s *ShoppingStore) Delete(ctx context.Context, householdID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM shopping_items WHERE id = ? AND household_id = ?`, id, householdID)
	if err != nil {
		return fmt.Errorf("delete shopping item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("shopping item not found")
	}
	return nil
}
