// Package validation выполняет проверку входных данных кредитной заявки.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/avasiliev/proposal-system/internal/model"
)

const birthDateLayout = "2006-01-02"

var minLoanAmount = decimal.New(1, -2) // 0.01

// ProposalPayload описывает тело запроса POST /proposal в формате внешнего API.
type ProposalPayload struct {
	CPF             string          `json:"cpf" validate:"required,len=11,number"`
	Nome            string          `json:"nome" validate:"required,max=255"`
	DataNascimento  string          `json:"data_nascimento" validate:"required,datetime=2006-01-02"`
	ValorEmprestimo decimal.Decimal `json:"valor_emprestimo" validate:"-"`
	ChavePix        string          `json:"chave_pix" validate:"required,email,max=255"`
}

// Errors содержит ошибки валидации, сгруппированные по полям запроса.
type Errors map[string][]string

func (e Errors) add(field, message string) {
	e[field] = append(e[field], message)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Имена полей в сообщениях об ошибках берутся из json-тегов.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// ValidateProposal проверяет тело запроса и возвращает типизированные данные заявки
// либо ошибки по полям.
func ValidateProposal(p ProposalPayload) (*model.ProposalCandidate, Errors) {
	errs := Errors{}

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs.add(fe.Field(), fieldMessage(fe))
			}
		} else {
			errs.add("payload", "request body could not be validated")
		}
	}

	if p.ValorEmprestimo.LessThan(minLoanAmount) {
		errs.add("valor_emprestimo", "the valor_emprestimo field must be at least 0.01")
	}

	if len(errs) > 0 {
		return nil, errs
	}

	birthDate, err := time.Parse(birthDateLayout, p.DataNascimento)
	if err != nil {
		// Формат уже проверен тегом datetime, сюда попадать не должны.
		errs.add("data_nascimento", "the data_nascimento field does not match the format YYYY-MM-DD")
		return nil, errs
	}

	return &model.ProposalCandidate{
		CPF:        p.CPF,
		Name:       p.Nome,
		BirthDate:  birthDate,
		LoanAmount: p.ValorEmprestimo,
		PixKey:     p.ChavePix,
	}, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("the %s field is required", fe.Field())
	case "len":
		return fmt.Sprintf("the %s field must be exactly %s characters", fe.Field(), fe.Param())
	case "number":
		return fmt.Sprintf("the %s field must contain only digits", fe.Field())
	case "max":
		return fmt.Sprintf("the %s field may not be greater than %s characters", fe.Field(), fe.Param())
	case "datetime":
		return fmt.Sprintf("the %s field does not match the format YYYY-MM-DD", fe.Field())
	case "email":
		return fmt.Sprintf("the %s field must be a valid email address", fe.Field())
	default:
		return fmt.Sprintf("the %s field is invalid", fe.Field())
	}
}
