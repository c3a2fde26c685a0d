package enrollment

import "fmt"

// ComputeAccessStatus derives the single access status from the three raw
// signals. It is pure and total over the valid enum space; the precedence
// order is, first match wins:
//
//  1. canceled subscription revokes access outright, even over a paid flag
//  2. manual rejection blocks access regardless of payment
//  3. failed payment -> past_due
//  4. payment never confirmed -> pending
//  5. paid but awaiting review, subscription healthy -> pending_approval
//  6. paid and approved, subscription healthy -> active
//  7. everything else (paid but subscription past_due/unpaid/incomplete) -> past_due
//
// Unrecognized enum values panic: a silent default here can grant access to a
// record it should not.
func ComputeAccessStatus(payment, approval, subscription string) string {
	mustValidPayment(payment)
	mustValidApproval(approval)
	mustValidSubscription(subscription)

	if subscription == SubscriptionCanceled {
		return AccessCanceled
	}
	if approval == ApprovalRejected {
		return AccessRejected
	}
	if payment == PaymentFailed {
		return AccessPastDue
	}
	if payment == PaymentPending {
		return AccessPending
	}

	healthy := subscription == SubscriptionActive || subscription == SubscriptionTrialing
	if payment == PaymentPaid && approval == ApprovalPendingReview && healthy {
		return AccessPendingApproval
	}
	if payment == PaymentPaid && approval == ApprovalApproved && healthy {
		return AccessActive
	}

	return AccessPastDue
}

func mustValidPayment(s string) {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
	default:
		panic(fmt.Sprintf("enrollment: invalid payment status %q", s))
	}
}

func mustValidApproval(s string) {
	switch s {
	case ApprovalPendingReview, ApprovalApproved, ApprovalRejected:
	default:
		panic(fmt.Sprintf("enrollment: invalid approval status %q", s))
	}
}

func mustValidSubscription(s string) {
	switch s {
	case SubscriptionActive, SubscriptionPastDue, SubscriptionCanceled,
		SubscriptionIncomplete, SubscriptionTrialing, SubscriptionUnpaid:
	default:
		panic(fmt.Sprintf("enrollment: invalid subscription status %q", s))
	}
}
