package service

var Retryable = retryable
