package app

import (
	"fmt"
	"time"

	"github.com/solarpay/compliance-service/internal/domain"
)

const (
	messageGreeting  = "Dear %s,\n\n"
	messageSignature = "\n\nBest regards,\nSolar Energy Team"
	dueDateLayout    = "2006-01-02"
)

// SubjectFor returns the notification subject for a reminder type.
func SubjectFor(t domain.ReminderType) string {
	switch t {
	case domain.ReminderUpcomingPayment:
		return "Upcoming Solar Payment Reminder"
	case domain.ReminderDueToday:
		return "Solar Payment Due Today"
	case domain.ReminderOverdue:
		return "Overdue Solar Payment Notice"
	case domain.ReminderGracePeriod:
		return "Important: Solar Payment Grace Period Notice"
	case domain.ReminderFinalWarning:
		return "URGENT: Final Notice Before Service Suspension"
	default:
		return "Solar Payment Notification"
	}
}

// RenderMessage builds the subject and body of a reminder. The output only
// depends on its arguments. The due date is printed in loc.
func RenderMessage(t domain.ReminderType, payment domain.Payment, customer domain.CustomerContact, loc *time.Location) (string, string) {
	if loc == nil {
		loc = time.UTC
	}
	amount := "$" + payment.Amount.StringFixed(2)
	due := payment.DueDate.In(loc).Format(dueDateLayout)

	var text string
	switch t {
	case domain.ReminderUpcomingPayment:
		text = fmt.Sprintf("This is a friendly reminder that your solar installment payment of %s is due on %s. "+
			"Please ensure your account has sufficient funds for the automatic payment, or log in to make a manual payment.\n\n"+
			"Thank you for choosing our solar energy solutions.", amount, due)
	case domain.ReminderDueToday:
		text = fmt.Sprintf("Your solar installment payment of %s is due today. "+
			"Please log in to your account to make a payment if you haven't set up automatic payments.\n\n"+
			"Thank you for your prompt attention to this matter.", amount)
	case domain.ReminderOverdue:
		text = fmt.Sprintf("Your solar installment payment of %s that was due on %s is now overdue. "+
			"Please make your payment as soon as possible to avoid any late fees or service interruptions.\n\n"+
			"If you have already made this payment, please disregard this notice.", amount, due)
	case domain.ReminderGracePeriod:
		text = fmt.Sprintf("Your solar installment payment of %s that was due on %s is now in the grace period. "+
			"Please make your payment immediately to avoid service interruption.\n\n"+
			"If you are experiencing financial difficulties, please contact our customer service team to discuss payment options.", amount, due)
	case domain.ReminderFinalWarning:
		text = fmt.Sprintf("FINAL NOTICE: Your solar installment payment of %s that was due on %s is significantly overdue. "+
			"Your solar system service will be suspended if payment is not received within 24 hours.\n\n"+
			"Please make your payment immediately or contact our customer service team to discuss payment options.", amount, due)
	default:
		text = fmt.Sprintf("This is a notification regarding your solar installment payment of %s due on %s.", amount, due)
	}

	return SubjectFor(t), fmt.Sprintf(messageGreeting, customer.FullName) + text + messageSignature
}
