package bsdd

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/wastetrack/wastetrack/internal/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateFormInput is the writable surface of a form.
type CreateFormInput struct {
	CustomID string `json:"customId"`

	EmitterType         EmitterType `json:"emitterType" validate:"required,oneof=PRODUCER APPENDIX2 OTHER"`
	EmitterCompanyName  string      `json:"emitterCompanyName"`
	EmitterCompanySiret string      `json:"emitterCompanySiret" validate:"omitempty,len=14,numeric"`

	RecipientCompanyName   string `json:"recipientCompanyName"`
	RecipientCompanySiret  string `json:"recipientCompanySiret" validate:"omitempty,len=14,numeric"`
	RecipientIsTempStorage bool   `json:"recipientIsTempStorage"`

	TransporterCompanyName      string `json:"transporterCompanyName"`
	TransporterCompanySiret     string `json:"transporterCompanySiret" validate:"omitempty,len=14,numeric"`
	TransporterCompanyVatNumber string `json:"transporterCompanyVatNumber"`
	TransporterNumberPlate      string `json:"transporterNumberPlate"`

	TraderCompanySiret string         `json:"traderCompanySiret" validate:"omitempty,len=14,numeric"`
	BrokerCompanySiret string         `json:"brokerCompanySiret" validate:"omitempty,len=14,numeric"`
	EcoOrganismeSiret  string         `json:"ecoOrganismeSiret" validate:"omitempty,len=14,numeric"`
	Intermediaries     []Intermediary `json:"intermediaries" validate:"max=3,dive"`

	WasteCode        string `json:"wasteDetailsCode"`
	WasteDescription string `json:"wasteDetailsName"`

	Grouping []GroupingLink `json:"grouping" validate:"dive"`
}

func (in CreateFormInput) toForm() Form {
	return in.applyTo(Form{})
}

func (in CreateFormInput) applyTo(f Form) Form {
	f.CustomID = in.CustomID
	f.EmitterType = in.EmitterType
	f.EmitterCompanyName = in.EmitterCompanyName
	f.EmitterCompanySiret = in.EmitterCompanySiret
	f.RecipientCompanyName = in.RecipientCompanyName
	f.RecipientCompanySiret = in.RecipientCompanySiret
	f.RecipientIsTempStorage = in.RecipientIsTempStorage
	f.TransporterCompanyName = in.TransporterCompanyName
	f.TransporterCompanySiret = in.TransporterCompanySiret
	f.TransporterCompanyVatNumber = in.TransporterCompanyVatNumber
	f.TransporterNumberPlate = in.TransporterNumberPlate
	f.TraderCompanySiret = in.TraderCompanySiret
	f.BrokerCompanySiret = in.BrokerCompanySiret
	f.EcoOrganismeSiret = in.EcoOrganismeSiret
	f.Intermediaries = in.Intermediaries
	f.WasteCode = in.WasteCode
	f.WasteDescription = in.WasteDescription
	f.Grouping = in.Grouping
	return f
}

// ResealInput describes the forwarding document re-emitted by the temporary
// storage site.
type ResealInput struct {
	TransporterCompanyName  string `json:"transporterCompanyName"`
	TransporterCompanySiret string `json:"transporterCompanySiret" validate:"required,len=14,numeric"`
	RecipientCompanyName    string `json:"recipientCompanyName"`
	RecipientCompanySiret   string `json:"recipientCompanySiret" validate:"required,len=14,numeric"`
}

func (in ResealInput) toForwardedForm(predecessor *Form) Form {
	return Form{
		EmitterType:             EmitterOther,
		EmitterCompanyName:      predecessor.RecipientCompanyName,
		EmitterCompanySiret:     predecessor.RecipientCompanySiret,
		RecipientCompanyName:    in.RecipientCompanyName,
		RecipientCompanySiret:   in.RecipientCompanySiret,
		TransporterCompanyName:  in.TransporterCompanyName,
		TransporterCompanySiret: in.TransporterCompanySiret,
		WasteCode:               predecessor.WasteCode,
		WasteDescription:        predecessor.WasteDescription,
	}
}

// validateInput runs the struct tags and folds field errors into one
// actionable validation error.
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Field()+" failed validation on "+fe.Tag())
	}
	return shared.NewValidationError(msgs...)
}

// validateSealed checks the fields that must be complete before the form
// gains legal existence.
func validateSealed(f *Form) error {
	var msgs []string
	if f.EmitterCompanySiret == "" && f.EcoOrganismeSiret == "" {
		msgs = append(msgs, "an emitter or an eco-organisme is required")
	}
	if f.RecipientCompanySiret == "" {
		msgs = append(msgs, "a destination is required")
	}
	if f.TransporterCompanySiret == "" && f.TransporterCompanyVatNumber == "" {
		msgs = append(msgs, "a transporter is required")
	}
	if f.WasteCode == "" {
		msgs = append(msgs, "a waste code is required")
	}
	if f.EmitterType == EmitterAppendix2 && len(f.Grouping) == 0 {
		msgs = append(msgs, "an appendix 2 emitter must group at least one form")
	}
	if len(msgs) > 0 {
		return shared.NewValidationError(msgs...)
	}
	return nil
}
