package enums

import "fmt"

// TransactionType distinguishes ledger audit rows.
type TransactionType string

const (
	TransactionTypeGrant   TransactionType = "grant"
	TransactionTypeConsume TransactionType = "consume"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeGrant,
	TransactionTypeConsume,
}

// String implements fmt.Stringer.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into a TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}

// CreditScene tags why credits moved, for accounting and audit.
type CreditScene string

const (
	SceneRegistrationBonus    CreditScene = "registration_bonus"
	SceneInvitationReward     CreditScene = "invitation_reward"
	SceneAdminGrant           CreditScene = "admin_grant"
	SceneRecurringEntitlement CreditScene = "recurring_entitlement"
	ScenePurchase             CreditScene = "purchase"
	SceneRefund               CreditScene = "refund"
	SceneImageGeneration      CreditScene = "image_generation"
)

var validCreditScenes = []CreditScene{
	SceneRegistrationBonus,
	SceneInvitationReward,
	SceneAdminGrant,
	SceneRecurringEntitlement,
	ScenePurchase,
	SceneRefund,
	SceneImageGeneration,
}

// String implements fmt.Stringer.
func (s CreditScene) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s CreditScene) IsValid() bool {
	for _, candidate := range validCreditScenes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCreditScene converts raw input into a CreditScene.
func ParseCreditScene(value string) (CreditScene, error) {
	for _, candidate := range validCreditScenes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit scene %q", value)
}
