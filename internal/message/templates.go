package message

// DefaultTextBody is the plain-text body used when a request supplies none.
const DefaultTextBody = "Hello!\r\n\r\n" +
	"This is a test message sent through the mail dispatch service.\r\n\r\n" +
	CustomContentPlaceholder + "\r\n\r\n" +
	"This message was sent as a test. Please feel free to ignore it.\r\n" +
	"To stop receiving these messages, visit: " + UnsubscribePlaceholder + "\r\n"

// DefaultHTMLBody is the HTML body used when a request supplies none.
const DefaultHTMLBody = `<!doctype html>
<html lang="en">
<head>
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
<title>Test message</title>
</head>
<body style="font-family: Helvetica, sans-serif; font-size: 16px; background-color: #f4f5f6; margin: 0; padding: 24px;">
<table role="presentation" border="0" cellpadding="0" cellspacing="0" style="max-width: 600px; margin: 0 auto; background: #ffffff; border: 1px solid #eaebed; border-radius: 16px;" width="100%">
<tr><td style="padding: 24px;">
<p style="margin: 0 0 16px;">Hello!</p>
<p style="margin: 0 0 16px;">This is a test message sent through the mail dispatch service.</p>
<p style="margin: 0 0 16px;">` + CustomContentPlaceholder + `</p>
<p style="margin: 0 0 16px;">This message was sent as a test. Please feel free to ignore it.</p>
</td></tr>
</table>
<p style="text-align: center; color: #9a9ea6; font-size: 13px;"><a href="` + UnsubscribePlaceholder + `" style="color: #9a9ea6;">Unsubscribe</a></p>
</body>
</html>
`
