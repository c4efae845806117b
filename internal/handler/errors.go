package handler

import (
	"net/http"

	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/pkg/utils"
)

func handleError(w http.ResponseWriter, err error) {
	utils.Error(w, apperrors.FromError(err))
}
