package entitlements

import (
	"testing"
	"time"

	"github.com/tatamelab/dojopay/app/models"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		subs []models.Subscription
		want bool
	}{
		{
			name: "no subscriptions",
			subs: nil,
			want: false,
		},
		{
			name: "active and unexpired",
			subs: []models.Subscription{
				{ID: 1, Status: models.SubscriptionActive, ExpiresAt: now.Add(24 * time.Hour)},
			},
			want: true,
		},
		{
			name: "active but overdue, scheduler has not run yet",
			subs: []models.Subscription{
				{ID: 2, Status: models.SubscriptionActive, ExpiresAt: now.Add(-time.Minute)},
			},
			want: false,
		},
		{
			name: "cancelled with future expiry",
			subs: []models.Subscription{
				{ID: 3, Status: models.SubscriptionCancelled, ExpiresAt: now.Add(24 * time.Hour)},
			},
			want: false,
		},
		{
			name: "expired status",
			subs: []models.Subscription{
				{ID: 4, Status: models.SubscriptionExpired, ExpiresAt: now.Add(-24 * time.Hour)},
			},
			want: false,
		},
		{
			name: "suspended",
			subs: []models.Subscription{
				{ID: 5, Status: models.SubscriptionSuspended, ExpiresAt: now.Add(24 * time.Hour)},
			},
			want: false,
		},
		{
			name: "one current among stale rows",
			subs: []models.Subscription{
				{ID: 6, Status: models.SubscriptionCancelled, ExpiresAt: now.Add(time.Hour)},
				{ID: 7, Status: models.SubscriptionActive, ExpiresAt: now.Add(time.Hour)},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, sub := Evaluate(tt.subs, now)
			if got != tt.want {
				t.Fatalf("Evaluate() = %v, want %v", got, tt.want)
			}
			if got && sub == nil {
				t.Fatalf("expected the granting subscription to be returned")
			}
			if !got && sub != nil {
				t.Fatalf("expected nil subscription when access is denied")
			}
		})
	}
}

func TestEvaluateReturnsGrantingSubscription(t *testing.T) {
	now := time.Now()
	subs := []models.Subscription{
		{ID: 1, Status: models.SubscriptionCancelled, ExpiresAt: now.Add(time.Hour)},
		{ID: 2, Status: models.SubscriptionActive, ExpiresAt: now.Add(time.Hour)},
	}
	ok, sub := Evaluate(subs, now)
	if !ok || sub == nil || sub.ID != 2 {
		t.Fatalf("expected subscription 2 to grant access, got ok=%v sub=%+v", ok, sub)
	}
}
