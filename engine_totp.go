package trustcore

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"regexp"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/relathq/trustcore/internal"
)

var totpCodePattern = regexp.MustCompile(`^[0-9]{6,8}$`)

// SetupTwoFactor provisions a TOTP secret for the session's user and
// returns everything the UI needs to finish enrollment: the base32
// secret, otpauth URL, rendered QR code, manual entry key, and one-time
// backup codes. The secret stays unverified until [Engine.ConfirmTwoFactor].
//
// SetupTwoFactor may return an error when input validation, dependency calls, or security checks fail.
// SetupTwoFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SetupTwoFactor(ctx context.Context, sealed string) (*TwoFactorSetup, error) {
	if e == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.TwoFactor.Enabled {
		return nil, ErrTwoFactorDisabled
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return nil, ErrSessionNotFound
	}
	if data.Impersonating != nil {
		e.metricInc(MetricImpersonationBlocked)
		e.emitAudit(ctx, auditCategorySecurity, auditEventImpersonationBlocked, false, data.UserID, data.Impersonating.OriginalUserID, ErrImpersonationBlocked, func() map[string]string {
			return map[string]string{"operation": "totp_setup"}
		})
		return nil, ErrImpersonationBlocked
	}

	if e.rateLimiter != nil {
		throttleKey := clientIPFromContext(ctx)
		if throttleKey == "" {
			throttleKey = data.UserID
		}
		if err := e.rateLimiter.CheckTwoFactor(ctx, throttleKey); err != nil {
			e.emitRateLimit(ctx, "totp_setup", nil)
			return nil, ErrTwoFactorRateLimited
		}
	}

	user, err := e.userProvider.GetUserByID(ctx, data.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.TwoFactor.Issuer,
		AccountName: user.Email,
		Period:      e.config.TwoFactor.Period,
		Digits:      e.totpDigits(),
	})
	if err != nil {
		return nil, ErrTwoFactorUnavailable
	}

	if err := e.userProvider.SaveTwoFactorSecret(ctx, user.UserID, []byte(key.Secret())); err != nil {
		return nil, ErrTwoFactorUnavailable
	}

	backupCodes, err := e.generateBackupCodes(ctx, user.UserID)
	if err != nil {
		return nil, err
	}

	qrDataURL, err := qrPNGDataURL(key, e.config.TwoFactor.QRSize)
	if err != nil {
		return nil, ErrTwoFactorUnavailable
	}

	e.emitAudit(ctx, auditCategorySecurity, auditEventTOTPSetupRequested, true, user.UserID, "", nil, nil)

	return &TwoFactorSetup{
		SecretBase32:   key.Secret(),
		OTPAuthURL:     key.URL(),
		QRCodeDataURL:  qrDataURL,
		ManualEntryKey: groupSecret(key.Secret()),
		BackupCodes:    backupCodes,
	}, nil
}

// ConfirmTwoFactor proves possession of the enrolled secret and flips
// two-factor on for the account. The session CSRF token is rotated; the
// returned sealed record replaces the caller's copy.
//
// ConfirmTwoFactor may return an error when input validation, dependency calls, or security checks fail.
// ConfirmTwoFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, sealed, code string) (string, error) {
	if e == nil || e.userProvider == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.TwoFactor.Enabled {
		return "", ErrTwoFactorDisabled
	}
	if !e.validCodeFormat(code) {
		return "", ErrValidation
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return "", ErrSessionNotFound
	}

	record, err := e.userProvider.GetTwoFactorSecret(ctx, data.UserID)
	if err != nil || record == nil || len(record.Secret) == 0 {
		return "", ErrTwoFactorNotConfigured
	}
	if record.Enabled && record.Verified {
		return "", ErrTwoFactorAlreadyEnabled
	}

	if !e.validateTOTP(code, string(record.Secret)) {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditCategorySecurity, auditEventTOTPFailure, false, data.UserID, "", ErrTwoFactorCodeInvalid, nil)
		return "", ErrTwoFactorCodeInvalid
	}

	if err := e.userProvider.MarkTwoFactorVerified(ctx, data.UserID); err != nil {
		return "", ErrTwoFactorUnavailable
	}
	if err := e.userProvider.EnableTwoFactor(ctx, data.UserID); err != nil {
		return "", ErrTwoFactorUnavailable
	}

	e.metricInc(MetricTOTPEnabled)
	e.emitAudit(ctx, auditCategorySecurity, auditEventTOTPEnabled, true, data.UserID, "", nil, nil)

	return e.rotateCSRF(data)
}

// DisableTwoFactor turns the second factor off after re-verifying a
// current TOTP code or a backup code. Refused while impersonating.
// The session CSRF token is rotated on success.
//
// DisableTwoFactor may return an error when input validation, dependency calls, or security checks fail.
// DisableTwoFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) DisableTwoFactor(ctx context.Context, sealed, code string) (string, error) {
	if e == nil || e.userProvider == nil {
		return "", ErrEngineNotReady
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return "", ErrSessionNotFound
	}
	if data.Impersonating != nil {
		e.metricInc(MetricImpersonationBlocked)
		e.emitAudit(ctx, auditCategorySecurity, auditEventImpersonationBlocked, false, data.UserID, data.Impersonating.OriginalUserID, ErrImpersonationBlocked, func() map[string]string {
			return map[string]string{"operation": "totp_disable"}
		})
		return "", ErrImpersonationBlocked
	}

	user, err := e.userProvider.GetUserByID(ctx, data.UserID)
	if err != nil {
		return "", ErrUserNotFound
	}
	if !user.TwoFactorEnabled {
		return "", ErrTwoFactorNotConfigured
	}

	verified, verr := e.verifySecondFactor(ctx, data.UserID, code)
	if verr != nil {
		return "", verr
	}
	if !verified {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditCategorySecurity, auditEventTOTPFailure, false, data.UserID, "", ErrTwoFactorCodeInvalid, nil)
		return "", ErrTwoFactorCodeInvalid
	}

	if err := e.userProvider.DisableTwoFactor(ctx, data.UserID); err != nil {
		return "", ErrTwoFactorUnavailable
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditCategorySecurity, auditEventTOTPDisabled, true, data.UserID, "", nil, nil)

	return e.rotateCSRF(data)
}

// RegenerateBackupCodes replaces the account's backup codes wholesale
// and returns the new plaintext set once.
//
// RegenerateBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// RegenerateBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, sealed, code string) ([]string, error) {
	if e == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return nil, ErrSessionNotFound
	}
	if data.Impersonating != nil {
		return nil, ErrImpersonationBlocked
	}

	user, err := e.userProvider.GetUserByID(ctx, data.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !user.TwoFactorEnabled {
		return nil, ErrTwoFactorNotConfigured
	}

	verified, verr := e.verifySecondFactor(ctx, data.UserID, code)
	if verr != nil {
		return nil, verr
	}
	if !verified {
		return nil, ErrTwoFactorCodeInvalid
	}

	codes, err := e.generateBackupCodes(ctx, data.UserID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditCategorySecurity, auditEventBackupCodesGenerated, true, data.UserID, "", nil, nil)

	return codes, nil
}

// verifySecondFactor accepts either a current TOTP code or a backup
// code. Backup codes are consumed on success.
func (e *Engine) verifySecondFactor(ctx context.Context, userID, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, ErrValidation
	}

	if e.validCodeFormat(code) {
		record, err := e.userProvider.GetTwoFactorSecret(ctx, userID)
		if err != nil || record == nil || len(record.Secret) == 0 {
			return false, ErrTwoFactorNotConfigured
		}
		if e.validateTOTP(code, string(record.Secret)) {
			e.metricInc(MetricTOTPSuccess)
			return true, nil
		}
		return false, nil
	}

	// Not a TOTP-shaped code; try the backup code path.
	hash := internal.HashBytes([]byte(strings.ToUpper(code)))
	consumed, err := e.userProvider.ConsumeBackupCode(ctx, userID, hash)
	if err != nil {
		return false, ErrTwoFactorUnavailable
	}
	if consumed {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditCategorySecurity, auditEventBackupCodeUsed, true, userID, "", nil, nil)
		return true, nil
	}

	e.metricInc(MetricBackupCodeFailed)
	e.emitAudit(ctx, auditCategorySecurity, auditEventBackupCodeFailed, false, userID, "", ErrBackupCodeInvalid, nil)
	return false, nil
}

func (e *Engine) validCodeFormat(code string) bool {
	if !totpCodePattern.MatchString(code) {
		return false
	}
	return len(code) == e.config.TwoFactor.Digits
}

func (e *Engine) validateTOTP(code, secret string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period: e.config.TwoFactor.Period,
		Skew:   1,
		Digits: e.totpDigits(),
	})
	return err == nil && valid
}

func (e *Engine) totpDigits() otp.Digits {
	if e.config.TwoFactor.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

func (e *Engine) generateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	count := e.config.TwoFactor.BackupCodeCount
	if count <= 0 {
		return nil, nil
	}

	codes := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(e.config.TwoFactor.BackupCodeLength)
		if err != nil {
			return nil, ErrTwoFactorUnavailable
		}
		codes = append(codes, code)
		records = append(records, BackupCodeRecord{Hash: internal.HashBytes([]byte(code))})
	}

	if err := e.userProvider.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, ErrTwoFactorUnavailable
	}

	return codes, nil
}

// rotateCSRF swaps the session's anti-forgery token and reseals.
func (e *Engine) rotateCSRF(data *SessionData) (string, error) {
	csrf, err := internal.NewCSRFToken()
	if err != nil {
		return "", ErrSessionSealFailed
	}
	data.CSRFToken = csrf

	sealed, err := e.sealer.Seal(data)
	if err != nil {
		return "", ErrSessionSealFailed
	}
	return sealed, nil
}

func qrPNGDataURL(key *otp.Key, size int) (string, error) {
	if size <= 0 {
		size = 256
	}

	img, err := key.Image(size, size)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func groupSecret(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
