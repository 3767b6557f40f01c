package app

import (
	"github.com/hallpass-id/hallpass/internal/platform/errors"
	"github.com/hallpass-id/hallpass/internal/storage"
	"github.com/hallpass-id/hallpass/internal/web/platform/flash"
)

type loginView struct {
	AppName string
	Email   string
	Notice  flash.Notice
}

type signupView struct {
	AppName  string
	FullName string
	Email    string
	Notice   flash.Notice
}

type chooseView struct {
	AppName      string
	OfferPasskey bool
	Notice       flash.Notice
}

type verifyView struct {
	AppName string
	Method  string
	Notice  flash.Notice
}

type setupView struct {
	AppName         string
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
	Notice          flash.Notice
}

type dashboardView struct {
	AppName          string
	FullName         string
	Email            string
	TwoFactorEnabled bool
	Notice           flash.Notice
}

type settingsView struct {
	AppName             string
	FullName            string
	Email               string
	TwoFactorConfigured bool
	TwoFactorEnabled    bool
	Passkeys            []storage.PasskeyCredential
	Notice              flash.Notice
}

// noticeForError renders the error taxonomy as user-facing toast text.
func noticeForError(err error) flash.Notice {
	switch errors.GetCode(err) {
	case errors.CodeInvalidCredentials:
		return flash.NoticeError("Invalid email or password.")
	case errors.CodeInvalidCode:
		return flash.NoticeError("That code didn't match. Try again.")
	case errors.CodeCancelled:
		return flash.Notice{Kind: flash.KindWarning, Message: "Passkey verification was cancelled."}
	case errors.CodeUnsupported:
		return flash.NoticeError("This device doesn't support passkeys.")
	case errors.CodeNoPasskeys:
		return flash.NoticeError("No passkeys are registered for this account.")
	case errors.CodeEmailTaken:
		return flash.NoticeError("An account with that email already exists.")
	case errors.CodeTwoFactorExists:
		return flash.Notice{Kind: flash.KindInfo, Message: "Two-factor authentication is already enabled."}
	case errors.CodeSessionExpired:
		return flash.Notice{Kind: flash.KindWarning, Message: "Your verification session expired. Sign in again."}
	case errors.CodeSessionMismatch, errors.CodeFlowStateInvalid:
		return flash.NoticeError("Something went wrong with this sign-in. Start over.")
	case errors.CodeInvalidInput:
		return flash.NoticeError("Check the submitted values and try again.")
	case errors.CodeStoreError:
		return flash.NoticeError("The credential service is unavailable. Try again shortly.")
	default:
		return flash.NoticeError("Something went wrong. Try again.")
	}
}
