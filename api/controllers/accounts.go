package controllers

import (
	"net/http"

	"github.com/mohacollection/storefront-backend/api/responses"
	"github.com/mohacollection/storefront-backend/api/validators"
	"github.com/mohacollection/storefront-backend/internal/address"
	"github.com/mohacollection/storefront-backend/internal/paymentmethods"
	"github.com/mohacollection/storefront-backend/pkg/logger"
)

type createAddressRequest struct {
	FullName     string  `json:"full_name" validate:"required,max=255"`
	AddressLine1 string  `json:"address_line1" validate:"required,max=255"`
	AddressLine2 *string `json:"address_line2" validate:"omitempty,max=255"`
	City         string  `json:"city" validate:"required,max=100"`
	State        *string `json:"state" validate:"omitempty,max=100"`
	PostalCode   *string `json:"postal_code" validate:"omitempty,max=20"`
	Country      string  `json:"country" validate:"required,max=100"`
	Phone        string  `json:"phone" validate:"required,max=20"`
	IsDefault    bool    `json:"is_default"`
}

func CreateAddress(svc address.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createAddressRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		created, err := svc.Create(r.Context(), userID, address.CreateInput{
			FullName:     req.FullName,
			AddressLine1: req.AddressLine1,
			AddressLine2: req.AddressLine2,
			City:         req.City,
			State:        req.State,
			PostalCode:   req.PostalCode,
			Country:      req.Country,
			Phone:        req.Phone,
			IsDefault:    req.IsDefault,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, created)
	}
}

func ListAddresses(svc address.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

type createPaymentMethodRequest struct {
	MethodType  string  `json:"method_type" validate:"required,oneof=mpesa card"`
	PhoneNumber *string `json:"phone_number"`
	LastFour    *string `json:"last_four"`
	IsDefault   bool    `json:"is_default"`
}

func CreatePaymentMethod(svc paymentmethods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createPaymentMethodRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		created, err := svc.Create(r.Context(), userID, paymentmethods.CreateInput{
			MethodType:  req.MethodType,
			PhoneNumber: req.PhoneNumber,
			LastFour:    req.LastFour,
			IsDefault:   req.IsDefault,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, created)
	}
}

func ListPaymentMethods(svc paymentmethods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
