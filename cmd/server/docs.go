package main

//go:generate swag init -g cmd/server/main.go -o docs

// @title           Prediction Market Bots API
// @version         0.1.0
// @description     Wallet custody, strategies, bot control and subscriptions for automated prediction-market trading.
// @BasePath        /
// @schemes         http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
