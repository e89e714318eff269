package main

import "qooqz/internal/app"

// @title           qooqz verification API
// @version         1.0
// @description     Phone verification, signed activation links and vendor activation for the qooqz marketplace.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	app.Run()
}
