package rate

func loginEmailKey(email string) string {
	return "tl:" + email
}

func loginIPKey(ip string) string {
	return "tli:" + ip
}

func unlockEmailKey(email string) string {
	return "tu:" + email
}

func twoFactorKey(userID string) string {
	return "tf:" + userID
}
