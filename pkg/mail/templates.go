package mail

import (
	"fmt"
	"html"
	"net/url"
)

const brandName = "V2 Financial Group"

// PasswordResetMessage builds the password reset email for a user. The reset
// link expires 15 minutes after the token was issued.
func PasswordResetMessage(to, frontendURL, resetToken string) Message {
	resetURL := fmt.Sprintf("%s/reset-password?token=%s&email=%s",
		frontendURL, url.QueryEscape(resetToken), url.QueryEscape(to))

	body := wrapBody("Password Reset Request", fmt.Sprintf(`
      <p>You have requested to reset your password for your %s account.</p>
      <p>Click the button below to reset your password. This link will expire in 15 minutes.</p>
      <div style="text-align: center; margin: 30px 0;">
        <a href="%s" style="background-color: #D4AF37; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; font-weight: bold; display: inline-block;">Reset Password</a>
      </div>
      <p style="color: #7F8C8D; font-size: 14px;">If you didn't request this password reset, please ignore this email. Your password will remain unchanged.</p>
      <p style="color: #7F8C8D; font-size: 14px;">If the button doesn't work, copy and paste this link into your browser:</p>
      <p style="color: #D4AF37; font-size: 14px; word-break: break-all;">%s</p>`,
		brandName, resetURL, html.EscapeString(resetURL)))

	return Message{
		To:      []string{to},
		Subject: brandName + " - Password Reset Request",
		Body:    body,
	}
}

// WelcomeMessage builds the account-created email sent to new users.
func WelcomeMessage(to, fullName, frontendURL string) Message {
	body := wrapBody("Welcome", fmt.Sprintf(`
      <p>Hello %s,</p>
      <p>An account has been created for you on the %s back-office portal.</p>
      <p>Sign in with your email address and the password provided by your administrator.
      You will be asked to set up two-factor authentication on first login.</p>
      <div style="text-align: center; margin: 30px 0;">
        <a href="%s" style="background-color: #D4AF37; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; font-weight: bold; display: inline-block;">Open Portal</a>
      </div>`,
		html.EscapeString(fullName), brandName, frontendURL))

	return Message{
		To:      []string{to},
		Subject: brandName + " - Your Account",
		Body:    body,
	}
}

// PasswordChangedNotice builds the notification sent to the administrator who
// created a user after that user resets their password.
func PasswordChangedNotice(adminEmail, userEmail, userName string) Message {
	body := wrapBody("Password Updated", fmt.Sprintf(`
      <p>The password for %s (%s) has been updated via the password reset flow.</p>
      <p>No action is required. This notice is informational.</p>`,
		html.EscapeString(userName), html.EscapeString(userEmail)))

	return Message{
		To:      []string{adminEmail},
		Subject: brandName + " - User Password Updated",
		Body:    body,
	}
}

// JobCompletedMessage notifies the submitting admin that an invoice batch finished.
func JobCompletedMessage(to, jobID, invoiceYear string, fileCount int) Message {
	body := wrapBody("Invoice Generation Complete", fmt.Sprintf(`
      <p>Invoice generation job <code>%s</code> for year %s has completed.</p>
      <p>%d files are ready for download from the invoice workflow page.</p>`,
		html.EscapeString(jobID), html.EscapeString(invoiceYear), fileCount))

	return Message{
		To:      []string{to},
		Subject: fmt.Sprintf("%s - Invoices %s Ready", brandName, invoiceYear),
		Body:    body,
	}
}

func wrapBody(heading, inner string) string {
	return fmt.Sprintf(`
    <div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
      <div style="text-align: center; margin-bottom: 30px;">
        <h1 style="color: #2C3E50; margin-bottom: 10px;">%s</h1>
        <div style="width: 100px; height: 3px; background-color: #D4AF37; margin: 0 auto;"></div>
      </div>
      <h2 style="color: #2C3E50; margin-bottom: 20px;">%s</h2>
      <div style="color: #34495E; line-height: 1.6;">%s</div>
    </div>`, brandName, heading, inner)
}
