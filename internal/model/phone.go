package model

import (
	"github.com/nyaruka/phonenumbers"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
)

// ValidPhoneNumber reports whether s is a valid number in international
// format (leading "+" and country code).
func ValidPhoneNumber(s string) bool {
	num, err := phonenumbers.Parse(s, "ZZ")
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}

// CheckPhoneNumbers rejects the first signer whose phone number is present but invalid.
func CheckPhoneNumbers(signers []SignerInfo) *apperr.Error {
	for i, s := range signers {
		if s.PhoneNumber == "" {
			continue
		}
		if !ValidPhoneNumber(s.PhoneNumber) {
			return apperr.CallerInput(apperr.CodePhoneNumberCheckFail, i,
				"Invalid parameter: taskConfig.signerInfoList.%d.phoneNumber is not a valid phone number format", i)
		}
	}
	return nil
}
