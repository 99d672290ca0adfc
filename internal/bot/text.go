package bot

import (
	"fmt"
	"strings"

	"bankbot/internal/core/ledger"
)

// accountText renders the /account summary the way users are used to
// seeing it: full name, email, then numbered loans and cards.
func accountText(c ledger.Client, loans []ledger.Loan, cards []ledger.Card) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Ваш аккаунт:\n")
	fmt.Fprintf(&b, "ФИО: %s %s %s\n", c.LastName, c.FirstName, c.Patronymic)
	fmt.Fprintf(&b, "Email: %s\n", c.Email)

	b.WriteString("Кредиты:\n")
	for i, l := range loans {
		fmt.Fprintf(&b, "%d. Сумма: %s, Процентная ставка: %g%%, статус: %s\n",
			i+1, l.Amount, l.InterestRate, l.Status)
	}

	b.WriteString("Карты:\n")
	for i, card := range cards {
		fmt.Fprintf(&b, "%d. Номер карты: <code>%s</code>, Дата окончания: %s, Баланс: %s, Статус: %s\n",
			i+1, card.Number, card.Expiration.Format("02.01.2006"), card.Balance, card.Status)
	}

	return b.String()
}
