/*
Package salary is the Insurance Salary Calculator.

  insurance salary = minimum wage(region, date) * coefficient(position, grade, date)

Multiplication is exact decimal arithmetic, never rounded here. A profile
without a position, or a missing rate on either side, is an error: the
calculator never answers zero for data it does not have.
*/
package salary

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/profile"
)

// RateSource is satisfied by *rates.Service.
type RateSource interface {
	RequireWage(ctx context.Context, region generic.Region, date generic.Date) (decimal.Decimal, error)
	RequireGrade(ctx context.Context, position generic.PositionID, grade generic.Grade, date generic.Date) (decimal.Decimal, error)
}

// ProfileSource is satisfied by *profile.Ledger.
type ProfileSource interface {
	AsOf(ctx context.Context, employee generic.EmployeeID, date generic.Date) (*profile.Profile, error)
}

// Result is a computed salary with the inputs that produced it.
type Result struct {
	Salary      decimal.Decimal
	Wage        decimal.Decimal
	Coefficient decimal.Decimal
	Region      generic.Region
	PositionID  generic.PositionID
	Grade       generic.Grade
	Date        generic.Date
	ProfileID   string
}

type Calculator struct {
	rates    RateSource
	profiles ProfileSource
}

func NewCalculator(rates RateSource, profiles ProfileSource) *Calculator {
	return &Calculator{rates: rates, profiles: profiles}
}

// Calculate prices p in region on date.
func (c *Calculator) Calculate(ctx context.Context, p profile.Profile, region generic.Region, date generic.Date) (Result, error) {
	if p.PositionID == nil || *p.PositionID == "" {
		return Result{}, &generic.MissingPositionError{EmployeeID: p.EmployeeID}
	}
	coef, err := c.rates.RequireGrade(ctx, *p.PositionID, p.Grade, date)
	if err != nil {
		return Result{}, err
	}
	wage, err := c.rates.RequireWage(ctx, region, date)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Salary:      wage.Mul(coef),
		Wage:        wage,
		Coefficient: coef,
		Region:      region,
		PositionID:  *p.PositionID,
		Grade:       p.Grade,
		Date:        date,
		ProfileID:   p.ID,
	}, nil
}

// CalculateForEmployee resolves the profile slice covering date first.
func (c *Calculator) CalculateForEmployee(ctx context.Context, employee generic.EmployeeID, region generic.Region, date generic.Date) (Result, error) {
	p, err := c.profiles.AsOf(ctx, employee, date)
	if err != nil {
		return Result{}, err
	}
	return c.Calculate(ctx, *p, region, date)
}
