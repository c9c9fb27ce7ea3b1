package credit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/supabase-community/supabase-go"

	"archiviz-render-server/modules/common/config"
)

// ErrInsufficientCredits - the balance cannot cover the operation cost
var ErrInsufficientCredits = errors.New("insufficient credits")

// Store - what the render pipeline needs from the account side.
// Checked before dispatch, debited only after success.
type Store interface {
	Balance(ctx context.Context, userID string) (int, bool, error)
	Deduct(ctx context.Context, userID, jobID string, amount int, description string) error
}

// Client - Supabase-backed credit store
type Client struct {
	supabase *supabase.Client
}

// NewClient - create the credit client
func NewClient() *Client {
	cfg := config.GetConfig()

	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		log.Printf("❌ Failed to create Supabase client: %v", err)
		return nil
	}

	return &Client{supabase: supabaseClient}
}

// Balance - current credit balance and admin flag for a member
func (c *Client) Balance(ctx context.Context, userID string) (int, bool, error) {
	var members []struct {
		Credit  int  `json:"member_credit"`
		IsAdmin bool `json:"member_is_admin"`
	}

	data, _, err := c.supabase.From("archi_member").
		Select("member_credit, member_is_admin", "", false).
		Eq("member_id", userID).
		Execute()

	if err != nil {
		return 0, false, fmt.Errorf("failed to fetch member credits: %w", err)
	}

	if err := json.Unmarshal(data, &members); err != nil {
		return 0, false, fmt.Errorf("failed to parse member data: %w", err)
	}

	if len(members) == 0 {
		return 0, false, fmt.Errorf("member not found: %s", userID)
	}

	return members[0].Credit, members[0].IsAdmin, nil
}

// Deduct - debit credits and record one transaction row
func (c *Client) Deduct(ctx context.Context, userID, jobID string, amount int, description string) error {
	log.Printf("💰 Deducting credits: User=%s, Amount=%d", userID, amount)

	current, _, err := c.Balance(ctx, userID)
	if err != nil {
		return err
	}

	newBalance := current - amount
	log.Printf("💰 Credit balance: %d → %d (-%d)", current, newBalance, amount)

	_, _, err = c.supabase.From("archi_member").
		Update(map[string]interface{}{
			"member_credit": newBalance,
		}, "", "").
		Eq("member_id", userID).
		Execute()

	if err != nil {
		return fmt.Errorf("failed to deduct credits: %w", err)
	}

	transactionData := map[string]interface{}{
		"member_id":        userID,
		"transaction_type": "DEDUCT",
		"amount":           -amount,
		"balance_after":    newBalance,
		"description":      description,
		"job_id":           jobID,
	}

	_, _, err = c.supabase.From("archi_credits").
		Insert(transactionData, false, "", "", "").
		Execute()

	if err != nil {
		// the debit itself succeeded; the ledger row is best-effort
		log.Printf("⚠️  Failed to record credit transaction for job %s: %v", jobID, err)
	}

	log.Printf("✅ Credits deducted successfully: %d credits from user %s", amount, userID)
	return nil
}

// EnsureSufficient - reject before dispatch when the balance cannot cover cost.
// Admin members bypass the check.
func EnsureSufficient(ctx context.Context, store Store, userID string, cost int) error {
	balance, isAdmin, err := store.Balance(ctx, userID)
	if err != nil {
		return err
	}

	if isAdmin {
		return nil
	}

	if balance < cost {
		log.Printf("🚫 Insufficient credits: user=%s balance=%d cost=%d", userID, balance, cost)
		return ErrInsufficientCredits
	}

	return nil
}
