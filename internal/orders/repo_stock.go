package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StockRepo struct{ DB *pgxpool.Pool }

// Outcome hasil rekonsiliasi stok utk satu order.
type Outcome int

const (
	OutcomeConfirmed Outcome = iota // semua item ter-decrement, order CONFIRMED
	OutcomeCancelled                // ada item kurang stok, order CANCELLED, tanpa decrement tersisa
	OutcomeAlreadyFinal             // order sudah CONFIRMED/CANCELLED: redelivery, no-op
)

// Reconcile: all-or-nothing reservation utk satu order.
//
// Dalam satu transaksi: lock row order (FOR UPDATE), short-circuit kalau
// status sudah final (guard idempotency utk redelivery), lalu per item
// jalankan conditional decrement:
//
//	UPDATE products SET stock = stock - qty WHERE id=$1 AND stock >= qty
//
// Satu statement atomik per item (bukan read-compare-write), jadi order
// concurrent yg rebutan product yg sama diserialisasi oleh storage, bukan
// oleh lock di proses. Kalau ada satu item yg tidak match, SEMUA decrement
// di-rollback dan CANCELLED dicatat lewat statement terpisah: order batal
// tidak boleh ninggalin decrement parsial.
func (r *StockRepo) Reconcile(ctx context.Context, orderID string, items []OrderItem) (Outcome, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrOrderNotFound
	}
	if err != nil {
		return 0, err
	}
	if Status(status).Terminal() {
		return OutcomeAlreadyFinal, nil
	}

	allMatched := true
	for _, it := range items {
		ct, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = now()
			WHERE id=$1 AND stock >= $2`, it.ProductID, it.Qty)
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			allMatched = false
			break
		}
	}

	if allMatched {
		if _, err := tx.Exec(ctx, `
			UPDATE orders SET status='CONFIRMED', updated_at = now()
			WHERE id=$1`, orderID); err != nil {
			return 0, err
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, err
		}
		return OutcomeConfirmed, nil
	}

	// rollback decrement yg sempat sukses, lalu catat CANCELLED terpisah
	if err := tx.Rollback(ctx); err != nil {
		return 0, err
	}
	if _, err := r.CancelPending(ctx, orderID); err != nil {
		return 0, err
	}
	return OutcomeCancelled, nil
}

// CancelPending: transisi PENDING_PAYMENT -> CANCELLED, guarded. Dipakai
// jalur kurang-stok dan consumer payment_failed. Status final tidak
// disentuh; matched=false berarti order sudah final atau tidak ada.
func (r *StockRepo) CancelPending(ctx context.Context, orderID string) (matched bool, err error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='CANCELLED', updated_at = now()
		WHERE id=$1 AND status='PENDING_PAYMENT'`, orderID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
