package service

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/honeynil/referral-credit-service/internal/models"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		f, _ := v.Interface().(decimal.Decimal).Float64()
		return f
	}, decimal.Decimal{})

	english := en.New()
	translator, _ = ut.New(english, english).GetTranslator("en")
	if err := entranslations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	registerRule("alphanumspace", alphaNumSpace, "{0} may only contain letters, numbers and spaces")
	registerRule("strongpassword", strongPassword, "{0} must contain an uppercase letter, a lowercase letter and a number")
}

func registerRule(tag string, fn validator.Func, message string) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
	err := validate.RegisterTranslation(tag, translator,
		func(trans ut.Translator) error { return trans.Add(tag, message, true) },
		func(trans ut.Translator, fe validator.FieldError) string {
			msg, _ := trans.T(tag, fe.Field())
			return msg
		},
	)
	if err != nil {
		panic(err)
	}
}

func alphaNumSpace(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' {
			return false
		}
	}
	return true
}

func strongPassword(fl validator.FieldLevel) bool {
	var upper, lower, digit bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}

// validateStruct runs the struct tags and converts failures into a
// *pkgerrors.ValidationError carrying one entry per field.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &pkgerrors.ValidationError{}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, pkgerrors.FieldError{
			Field:   fe.Field(),
			Message: fe.Translate(translator),
		})
	}
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type registerInput struct {
	FirstName    string `json:"first_name" validate:"required,min=2,max=50,alphanumspace"`
	LastName     string `json:"last_name" validate:"required,min=2,max=50,alphanumspace"`
	Email        string `json:"email" validate:"required,email,max=255"`
	Password     string `json:"password" validate:"required,min=8,max=128,strongpassword"`
	ReferralCode string `json:"referral_code" validate:"omitempty,min=6,max=10,alphanum"`
}

func ValidateRegister(req RegisterRequest) error {
	return validateStruct(registerInput{
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        normalizeEmail(req.Email),
		Password:     req.Password,
		ReferralCode: normalizeReferralCode(req.ReferralCode),
	})
}

// amounts are stored as NUMERIC(12, 2)
const amountScale = 2

type settleInput struct {
	UserID      string          `json:"user_id" validate:"required,uuid"`
	Description string          `json:"description" validate:"required,min=1,max=100"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0,lte=9999999999.99"`
	Currency    models.Currency `json:"currency" validate:"oneof=USD EUR GBP"`
	CreditsUsed int64           `json:"credits_used" validate:"gte=0"`
}

func ValidateSettle(req SettleRequest) error {
	userID := ""
	if req.UserID != uuid.Nil {
		userID = req.UserID.String()
	}
	err := validateStruct(settleInput{
		UserID:      userID,
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount,
		Currency:    req.Currency,
		CreditsUsed: req.CreditsUsed,
	})
	if req.Amount.Equal(req.Amount.Truncate(amountScale)) {
		return err
	}
	// The float conversion used by the tags cannot see the scale.
	scaleErr := pkgerrors.FieldError{Field: "amount", Message: "amount must have at most 2 decimal places"}
	var verr *pkgerrors.ValidationError
	if errors.As(err, &verr) {
		for _, f := range verr.Fields {
			if f.Field == "amount" {
				return verr
			}
		}
		verr.Fields = append(verr.Fields, scaleErr)
		return verr
	}
	if err != nil {
		return err
	}
	return &pkgerrors.ValidationError{Fields: []pkgerrors.FieldError{scaleErr}}
}

type emailInput struct {
	Email string `json:"email" validate:"required,email"`
}

func ValidateEmail(email string) error {
	return validateStruct(emailInput{Email: normalizeEmail(email)})
}

type consumeResetInput struct {
	Token    string `json:"token" validate:"required,hexadecimal,len=64"`
	Password string `json:"password" validate:"required,min=8,max=128,strongpassword"`
}

func ValidateConsumeReset(token, password string) error {
	return validateStruct(consumeResetInput{Token: token, Password: password})
}
